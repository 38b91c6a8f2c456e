package to_ir

import "encoding/base64"

// decodeBase64 tolerates both standard and URL-safe alphabets, since
// clients disagree about which one they send inline image data in.
func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
