//go:build !unix

package flashio

// fsyncParentDir is a no-op on non-unix platforms, which have no equivalent
// directory-fsync syscall exposed through golang.org/x/sys.
func fsyncParentDir(string) error {
	return nil
}
