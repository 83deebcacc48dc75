// Package cache provides a get-or-create cache for heavyweight resources
// built from an ordered list of locations.
//
// A Cache hands each caller a *Handle for the duration of an action. The
// cache itself only keeps weak references to handles, so once the last
// action holding a handle returns and the garbage collector reclaims it, a
// background worker owned by the Cache removes the entry and runs the two
// teardown strategies registered at construction time: inbound first, then
// outbound.
//
// Keys are derived with DeriveKey: location order matters, and paths and
// file URIs that name the same location derive the same key.
//
//	c, err := cache.New[*Loader](cache.Config{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer c.Shutdown(ctx)
//
//	err = c.WithResource(ctx, []string{"/libs/a.jar", "/libs/b.jar"},
//	    scrubHostState, scrubLoaderState,
//	    func(ctx context.Context) (*Loader, error) { return OpenLoader(ctx, paths) },
//	    func(ctx context.Context, h *cache.Handle[*Loader]) error {
//	        return h.Resource().Run(ctx)
//	    })
//
// Code must use the handle, not keep the raw resource, while it works: a raw
// resource retained past the action can be torn down underneath it.
package cache
