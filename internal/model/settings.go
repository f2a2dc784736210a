package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Suspension methods understood by the router-control collaborator.
const (
	MethodQueue       = "queue"
	MethodAddressList = "address_list"
	MethodBoth        = "both"
)

const (
	DefaultSuspensionMethod = MethodQueue
	DefaultSuspensionSpeed  = "1k/1k"
	DefaultAddressListName  = "clientes_activos"
	DefaultGraceDays        = 3
)

// Setting keys as stored by the settings collaborator.
const (
	KeySuspensionMethod = "suspension_method"
	KeySuspensionSpeed  = "suspension_speed"
	KeyAddressListName  = "address_list_name"
	KeyGraceDays        = "grace_days"
)

// Settings holds the operator-tunable values that affect suspension.
type Settings struct {
	SuspensionMethod string `json:"suspension_method"`
	SuspensionSpeed  string `json:"suspension_speed"`
	AddressListName  string `json:"address_list_name"`
	GraceDays        int    `json:"grace_days"`
}

// DefaultSettings returns the values used when nothing is stored.
func DefaultSettings() Settings {
	return Settings{
		SuspensionMethod: DefaultSuspensionMethod,
		SuspensionSpeed:  DefaultSuspensionSpeed,
		AddressListName:  DefaultAddressListName,
		GraceDays:        DefaultGraceDays,
	}
}

// SettingsFromMap overlays stored key/value pairs on the defaults.
// Unknown keys and malformed values are validation errors.
func SettingsFromMap(values map[string]string) (Settings, error) {
	s := DefaultSettings()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Set(k, values[k]); err != nil {
			return Settings{}, err
		}
	}
	return s, s.Validate()
}

// Set assigns one key.
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case KeySuspensionMethod:
		s.SuspensionMethod = value
	case KeySuspensionSpeed:
		s.SuspensionSpeed = value
	case KeyAddressListName:
		s.AddressListName = value
	case KeyGraceDays:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: grace_days must be an integer", ErrValidation)
		}
		s.GraceDays = n
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrValidation, key)
	}
	return nil
}

// Map returns the key/value form used for persistence.
func (s Settings) Map() map[string]string {
	return map[string]string{
		KeySuspensionMethod: s.SuspensionMethod,
		KeySuspensionSpeed:  s.SuspensionSpeed,
		KeyAddressListName:  s.AddressListName,
		KeyGraceDays:        strconv.Itoa(s.GraceDays),
	}
}

// Validate checks ranges and enumerations.
func (s Settings) Validate() error {
	switch s.SuspensionMethod {
	case MethodQueue, MethodAddressList, MethodBoth:
	default:
		return fmt.Errorf("%w: suspension_method must be queue, address_list or both", ErrValidation)
	}
	if s.SuspensionSpeed == "" {
		return fmt.Errorf("%w: suspension_speed is required", ErrValidation)
	}
	if s.AddressListName == "" {
		return fmt.Errorf("%w: address_list_name is required", ErrValidation)
	}
	if s.GraceDays < 0 || s.GraceDays > 31 {
		return fmt.Errorf("%w: grace_days must be between 0 and 31", ErrValidation)
	}
	return nil
}
