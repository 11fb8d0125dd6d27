package apk

import (
	"regexp"
	"strings"

	"github.com/paydeck/packager/core/infra/logging"
)

// endpointAssignment matches `<ident> = <call>(...) || "<defaultUrl>"`,
// the shape the console's config asset uses to pick an endpoint at
// runtime. Capture groups: everything up to the quoted default, the
// quote character, and the default URL itself.
var endpointAssignment = regexp.MustCompile(`([A-Za-z_$][\w$.]*\s*=\s*[\w$.]+\([^)]*\)\s*\|\|\s*)(['"])([^'"]*)['"]`)

// PatchEndpoint rewrites the default endpoint URL inside the archive's
// config asset. A missing asset is a no-op: some package variants simply
// do not carry one. When the structured assignment pattern is absent the
// patcher falls back to replacing the known legacy default literal; if
// neither applies the failure is logged and swallowed so packaging
// continues with the unmodified archive. Returns whether a replacement
// happened.
func PatchEndpoint(a *Archive, assetPath, legacyURL, newURL string) bool {
	data, ok := a.Entry(assetPath)
	if !ok {
		return false
	}
	content := string(data)

	if endpointAssignment.MatchString(content) {
		patched := endpointAssignment.ReplaceAllString(content, "${1}${2}"+newURL+"${2}")
		a.Replace(assetPath, []byte(patched))
		return true
	}

	if legacyURL != "" && strings.Contains(content, legacyURL) {
		a.Replace(assetPath, []byte(strings.ReplaceAll(content, legacyURL, newURL)))
		return true
	}

	logging.Error("apk", "endpoint patch skipped", "asset", assetPath, "reason", "no matching pattern")
	return false
}
