//go:build !linux

package arena

func loadPlatform() (Allocator, error) {
	return nil, ErrUnavailable
}
