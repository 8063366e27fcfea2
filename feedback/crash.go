// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"bytes"
	"io/ioutil"

	"github.com/maruel/panicparse/stack"
)

// ExtractSuppression reduces crashing PUT output to a stable dedup key: the
// function names of the first goroutine's stack, each preceded by a newline.
// Output that doesn't parse as a panic dump is used verbatim.
func ExtractSuppression(out []byte) []byte {
	ctx, err := stack.ParseDump(bytes.NewBuffer(out), ioutil.Discard, false)
	if err != nil || ctx == nil {
		return out
	}

	var suppression []byte
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		for _, f := range gr.Stack.Calls {
			suppression = append(suppression, []byte("\n"+f.Func.PkgDotName())...)
		}
		return suppression
	}

	return out
}
