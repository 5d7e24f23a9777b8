// Package emulators starts throwaway broker and warehouse containers for
// integration tests.
package emulators

// ImageContainer describes one emulator image and the ports it exposes.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}
