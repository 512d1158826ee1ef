package tokenstore

import (
	"encoding/json"
	"fmt"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// record is the persisted envelope; the key is kept so backends that sanitize
// names can still list original storage keys
type record struct {
	Key   string       `json:"key"`
	Token *oauth.Token `json:"token"`
}

// encode serializes and, when c is set, encrypts a record
func encode(c Cipher, key string, token *oauth.Token) ([]byte, error) {
	data, err := json.Marshal(record{Key: key, Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshaling token record: %w", err)
	}
	if c == nil {
		return data, nil
	}
	payload, err := c.Encrypt(data)
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// decode reverses encode
func decode(c Cipher, data []byte) (*record, error) {
	if c != nil {
		plain, err := c.Decrypt(string(data))
		if err != nil {
			return nil, err
		}
		data = plain
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling token record: %w", err)
	}
	if rec.Token == nil || rec.Token.AccessToken == "" {
		return nil, fmt.Errorf("token record for %q has no access token", rec.Key)
	}
	return &rec, nil
}
