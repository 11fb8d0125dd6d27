package sign

import (
	"bytes"
	"strings"

	"github.com/paydeck/packager/core/apk"
)

const (
	// ManifestPath, SignatureFilePath and SignatureBlockPath are the
	// three metadata entries added to a signed archive.
	ManifestPath       = "META-INF/MANIFEST.MF"
	SignatureFilePath  = "META-INF/CERT.SF"
	SignatureBlockPath = "META-INF/CERT.RSA"

	generator = "1.0 (paydeck-packager)"

	// maxLineBytes is the wrap threshold mandated by the signature
	// scheme: longer lines continue on the next line behind a single
	// space. Verifiers reassemble them before comparing, so this is a
	// wire format rule, not style.
	maxLineBytes = 70

	crlf = "\r\n"
)

// BuildManifest serializes the digest manifest for every non-metadata
// entry of the archive, sorted by path. The output is deterministic:
// the same entry set always produces identical bytes.
func BuildManifest(a *apk.Archive) []byte {
	var b bytes.Buffer
	writeWrapped(&b, "Manifest-Version: 1.0")
	writeWrapped(&b, "Created-By: "+generator)
	b.WriteString(crlf)

	for _, path := range a.Paths() {
		if strings.HasPrefix(path, apk.MetadataDir) {
			continue
		}
		data, _ := a.Entry(path)
		writeWrapped(&b, "Name: "+path)
		writeWrapped(&b, digestAttr+": "+Digest(data))
		b.WriteString(crlf)
	}
	return b.Bytes()
}

// BuildSignatureFile serializes the signature file for a manifest. The
// header digests the entire manifest byte stream; each entry digests its
// manifest block's fully serialized bytes including the terminating
// blank line. Installers recompute exactly these digests, so the scope
// must not drift.
func BuildSignatureFile(manifest []byte) []byte {
	var b bytes.Buffer
	writeWrapped(&b, "Signature-Version: 1.0")
	writeWrapped(&b, "Created-By: "+generator)
	writeWrapped(&b, digestAttr+"-Manifest: "+Digest(manifest))
	b.WriteString(crlf)

	for _, block := range manifestBlocks(manifest) {
		name := blockName(block)
		if name == "" {
			continue
		}
		writeWrapped(&b, "Name: "+name)
		writeWrapped(&b, digestAttr+": "+Digest(block))
		b.WriteString(crlf)
	}
	return b.Bytes()
}

// manifestBlocks splits a serialized manifest into its entry blocks,
// each including the trailing blank line. The leading header block is
// dropped.
func manifestBlocks(manifest []byte) [][]byte {
	blocks := bytes.SplitAfter(manifest, []byte(crlf+crlf))
	out := make([][]byte, 0, len(blocks))
	for i, block := range blocks {
		if i == 0 || len(block) == 0 {
			continue
		}
		out = append(out, block)
	}
	return out
}

// blockName returns the Name attribute of a manifest block, reassembling
// wrapped continuation lines.
func blockName(block []byte) string {
	lines := strings.Split(string(block), crlf)
	unwrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, " ") && len(unwrapped) > 0 {
			unwrapped[len(unwrapped)-1] += line[1:]
			continue
		}
		unwrapped = append(unwrapped, line)
	}
	for _, line := range unwrapped {
		if strings.HasPrefix(line, "Name: ") {
			return strings.TrimPrefix(line, "Name: ")
		}
	}
	return ""
}

// writeWrapped emits an attribute line, continuing past maxLineBytes on
// one-space-indented follow-up lines.
func writeWrapped(b *bytes.Buffer, line string) {
	if len(line) <= maxLineBytes {
		b.WriteString(line)
		b.WriteString(crlf)
		return
	}
	b.WriteString(line[:maxLineBytes])
	b.WriteString(crlf)
	rest := line[maxLineBytes:]
	for len(rest) > maxLineBytes-1 {
		b.WriteString(" " + rest[:maxLineBytes-1])
		b.WriteString(crlf)
		rest = rest[maxLineBytes-1:]
	}
	b.WriteString(" " + rest)
	b.WriteString(crlf)
}
