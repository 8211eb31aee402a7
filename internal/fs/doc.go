// Package fs provides the file abstraction used by the storage layers.
//
// [LocalFS] is the production implementation. [FaultyFS] wraps any
// [FileSystem] and injects write limits, short reads, and open, sync or
// close failures into files whose name matches a rule, which is how the
// I/O error paths of segment and catalog files are tested:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".bin000", fs.Fault{FailAfterBytes: -1, ShortReadAt: 100})
//
// The interfaces take no context.Context. Local file operations are not
// interruptible at the syscall level; remote objects go through
// the blobstore package, which does take a context.
package fs
