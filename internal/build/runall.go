// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package build

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/goplus/llrecipe/recipe"
)

// RunAll runs independent recipes concurrently, at most Options.Parallel
// at a time. Each recipe owns its work dir and lock. results[i] belongs to
// recipes[i] and is nil when that recipe failed or was not started; the
// first failure cancels the recipes still running.
func (b *Builder) RunAll(ctx context.Context, recipes []*recipe.Recipe) ([]*Result, error) {
	results := make([]*Result, len(recipes))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for i, rcp := range recipes {
		g.Go(func() error {
			res, err := b.Run(ctx, rcp)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	return results, g.Wait()
}
