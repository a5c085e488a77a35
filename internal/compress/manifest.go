package compress

import "encoding/json"

func marshalManifest(m any) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
