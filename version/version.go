package version

// set through -ldflags "-X github.com/AvaProtocol/chainflow/version.semver=..." on release builds
var (
	semver   = "0.1.0"
	revision = "unknown"
)

// Get returns the semantic version of the worker binary
func Get() string {
	return semver
}

// Commit returns the git revision the binary was built from
func Commit() string {
	return revision
}
