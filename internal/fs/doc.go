// Package fs provides the filesystem abstraction index components are
// written through.
//
// The package defines two interfaces:
//
//   - [File]: an open component file with read/write/sync capabilities
//   - [FileSystem]: the operations writers and searchers need (open,
//     remove, stat, list)
//
// # Implementations
//
//   - [LocalFS]: production implementation over the os package
//   - [FaultyFS]: test wrapper injecting I/O errors, used to exercise
//     build abort paths
//
// Production code uses fs.Default (a [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests wrap it to simulate failures on selected components:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("terms", fs.Fault{FailAfterBytes: 512})
//
// Operations here take no context.Context: local file syscalls are fast and
// non-interruptible, so cancellation is handled above this layer.
package fs
