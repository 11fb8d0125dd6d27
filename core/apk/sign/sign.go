package sign

import (
	"strings"

	"github.com/paydeck/packager/core/apk"
	"github.com/paydeck/packager/core/infra/logging"
)

// Result is the tagged outcome of signing: either the signed archive, or
// the rebuilt unsigned archive with the degradation reason. Signing is
// best effort; an unsigned package still serves sideload flows that
// enforce signatures less strictly.
type Result struct {
	Data   []byte
	Signed bool
	Reason string
}

// SignArchive re-signs an application archive. Stale metadata entries
// from a previous signature are dropped, the manifest and signature file
// are built over the remaining entries, and the PKCS#7 block is computed
// with the given identity. Any failure in the signing machinery degrades
// to the unsigned rebuilt archive rather than aborting; only a rebuild
// failure is a hard error. The input archive is never mutated.
func SignArchive(a *apk.Archive, id *Identity) (Result, error) {
	stripped := stripMetadata(a)

	manifest := BuildManifest(stripped)
	sf := BuildSignatureFile(manifest)
	block, err := Block(sf, id)
	if err != nil {
		logging.Error("sign", "signing degraded, shipping unsigned archive", "error", err)
		data, buildErr := stripped.Build()
		if buildErr != nil {
			return Result{}, buildErr
		}
		return Result{Data: data, Signed: false, Reason: err.Error()}, nil
	}

	stripped.Add(ManifestPath, manifest)
	stripped.Add(SignatureFilePath, sf)
	stripped.Add(SignatureBlockPath, block)
	data, err := stripped.Build()
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data, Signed: true}, nil
}

// stripMetadata copies the archive without any prior signing artifacts.
func stripMetadata(a *apk.Archive) *apk.Archive {
	out := &apk.Archive{}
	for _, path := range a.Paths() {
		if strings.HasPrefix(path, apk.MetadataDir) {
			continue
		}
		data, _ := a.Entry(path)
		copied := make([]byte, len(data))
		copy(copied, data)
		out.Add(path, copied)
	}
	return out
}
