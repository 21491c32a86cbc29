package config

// Backend is the platform store behind Load and SetKey. Values are kept as
// strings; keys.go owns parsing.
type Backend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}
