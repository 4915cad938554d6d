// Provides platform-appropriate paths for cruxbuild.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The program name "cruxbuild" is used as the
// subdirectory under each base path.
//
// Example usage:
//
//	if err := os.MkdirAll(paths.Scratch(), paths.DefaultDirMode); err != nil {
//	    return err
//	}
//	c, err := cache.Open(paths.CacheFile())
package paths
