// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Well-known keys shared by the signer components.
const (
	// PoliciesKey holds the whole policy table as a JSON array.
	PoliciesKey = "policies"

	// RelaysKey holds the relay map returned by getRelays.
	RelaysKey = settingsPrefix + "relays"

	// ProtocolHandlerKey holds the URL template used by link.resolve.
	ProtocolHandlerKey = settingsPrefix + "protocol_handler"

	settingsPrefix = "settings/"
)

// SettingPath returns the storage path for a named user setting.
func SettingPath(name string) string {
	return settingsPrefix + name
}

// ListSettings returns the names of all stored settings.
func ListSettings(backend Backend) ([]string, error) {
	keys, err := backend.List(settingsPrefix)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if name := strings.TrimPrefix(k, settingsPrefix); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// GetJSON reads key and decodes it into v. A missing key leaves v untouched
// and returns false.
func GetJSON(backend Backend, key string, v any) (bool, error) {
	data, err := backend.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidData, key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key in a single write.
func PutJSON(backend Backend, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return backend.Put(key, data)
}
