// Package buildinfo carries version metadata set at link time:
//
//	go build -ldflags "-X github.com/njust/KTail-sub000/internal/buildinfo.Version=v1.2.0"
package buildinfo

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the metadata for version output.
func String(program string) string {
	return program + " " + Version + " (" + Commit + ") built " + Date
}
