//go:build !microwakeword

package wakeword

// Default stub so the project builds without the microwakeword tag
func newModelDetector(string) (Detector, error) {
	return nil, ErrUnsupported
}
