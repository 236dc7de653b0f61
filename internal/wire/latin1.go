package wire

import "golang.org/x/text/encoding/charmap"

// decodeLatin1 and encodeLatin1 round-trip fixed-width name fields through
// ISO-8859-1 rather than assuming ASCII, so a character or zone name
// carrying an extended-Latin byte (the retail client's font covers them)
// decodes to the same rune it would encode back to.
func decodeLatin1(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func encodeLatin1(s string) []byte {
	out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
