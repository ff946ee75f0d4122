package auth_test

import "encoding/json"

func jsonDecode(raw string, target any) error {
	return json.Unmarshal([]byte(raw), target)
}
