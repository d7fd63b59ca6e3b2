// Package protect keeps file tools away from secrets and credentials.
//
// A Detector decides whether a path is sensitive using three checks: glob
// patterns over the slash-separated path, keywords in the base name, and file
// extensions. Its Policy plugs into the executor so any plan step whose path
// argument is sensitive is rejected before the tool runs.
package protect

// DefaultPatterns are globs for directories and files that hold secrets.
var DefaultPatterns = []string{
	"**/.ssh/**",
	"**/.aws/**",
	"**/.gnupg/**",
	"**/.kube/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/.env",
	"**/.env.*",
	"**/.netrc",
	"**/.git-credentials",
}

// DefaultKeywords are base-name substrings that mark a file as sensitive.
var DefaultKeywords = []string{
	"secret",
	"credential",
	"password",
	"passwd",
	"private_key",
	"id_rsa",
	"id_ed25519",
}

// DefaultFileTypes are extensions of key and certificate stores.
var DefaultFileTypes = []string{
	".pem",
	".key",
	".p12",
	".pfx",
	".jks",
	".keystore",
	".kdbx",
}
