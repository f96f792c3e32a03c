// Package policyconfig loads and validates the frozen PolicyConfig
// value the agent is configured with at startup, a ConfigLoader
// collaborator supplying a frozen PolicyConfig value. Parsing is
// intentionally narrow (a flat JSON document) since the
// security-relevant part of this component is the config-file
// ownership/permission preflight it performs, not the document
// grammar.
package policyconfig

import (
	"encoding/json"
	"fmt"
	"os"

	multierror "github.com/hashicorp/go-multierror"
)

// Ternary is a three-state switch: disallow, allow, or enforce.
type Ternary int

const (
	Disallow Ternary = iota
	Allow
	Enforce
)

func (t Ternary) String() string {
	switch t {
	case Disallow:
		return "disallow"
	case Allow:
		return "allow"
	case Enforce:
		return "enforce"
	default:
		return "unknown"
	}
}

func (t *Ternary) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "disallow", "":
		*t = Disallow
	case "allow":
		*t = Allow
	case "enforce":
		*t = Enforce
	default:
		return fmt.Errorf("policyconfig: invalid ternary value %q", s)
	}
	return nil
}

// StorageMode selects how the per-user state file is located.
type StorageMode int

const (
	// StorageShadow keeps one file per username in a "users" directory
	// beside ShadowPath; no single shared file is read or written.
	StorageShadow StorageMode = iota
	// StorageHomeDir keeps a fixed-name file in the user's home directory.
	StorageHomeDir
)

func (m *StorageMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "shadow", "":
		*m = StorageShadow
	case "home", "homedir":
		*m = StorageHomeDir
	default:
		return fmt.Errorf("policyconfig: invalid storage mode %q", s)
	}
	return nil
}

// Config is the immutable policy value loaded once at agent start and
// passed explicitly to PolicyGate and PppState setters — never a
// process-wide singleton (see DESIGN.md's Design Notes on
// cfg_get()).
type Config struct {
	// Ternary switches.
	Salt Ternary `json:"salt"`
	Show Ternary `json:"show"`

	// Boolean capability flags.
	AllowKeyGeneration   bool `json:"allow_key_generation"`
	AllowKeyRegeneration bool `json:"allow_key_regeneration"`
	AllowKeyRemoval      bool `json:"allow_key_removal"`
	AllowDisabling       bool `json:"allow_disabling"`
	AllowSkipping        bool `json:"allow_skipping"`
	AllowShellAuth       bool `json:"allow_shell_auth"`
	AllowPasscodePrint   bool `json:"allow_passcode_print"`
	AllowKeyPrint        bool `json:"allow_key_print"`
	AllowLabelChange     bool `json:"allow_label_change"`
	AllowContactChange   bool `json:"allow_contact_change"`
	AllowImport          bool `json:"allow_import"`
	AllowExport          bool `json:"allow_export"`

	// Passcode / alphabet ranges.
	PasscodeMinLength int `json:"passcode_min_length"`
	PasscodeMaxLength int `json:"passcode_max_length"`
	PasscodeDefLength int `json:"passcode_def_length"`
	AlphabetMinLength int `json:"alphabet_min_length"`
	AlphabetMaxLength int `json:"alphabet_max_length"`

	// Static-password composition requirements.
	SpassAllowChange       bool `json:"spass_allow_change"`
	SpassMinLength         int  `json:"spass_min_length"`
	SpassRequireDigit      bool `json:"spass_require_digit"`
	SpassRequireSpecial    bool `json:"spass_require_special"`
	SpassRequireUppercase  bool `json:"spass_require_uppercase"`

	// State storage location.
	Storage        StorageMode `json:"storage"`
	ShadowPath     string      `json:"shadow_path"`
	HomeStateFile  string      `json:"home_state_file"`

	// Remote DB configuration gates the config-ownership preflight
	// (spec.md §6 "Config permissions preflight").
	RemoteDBConfigured bool `json:"remote_db_configured"`
}

// Default mirrors the original otpasswd's compiled-in defaults
// (libotp/config.c's static initializer), translated field-for-field.
func Default() *Config {
	return &Config{
		Salt:                 Allow,
		Show:                 Allow,
		AllowKeyGeneration:   true,
		AllowKeyRegeneration: true,
		AllowKeyRemoval:      true,
		AllowDisabling:       false,
		AllowSkipping:        true,
		AllowShellAuth:       true,
		AllowPasscodePrint:   true,
		AllowKeyPrint:        true,
		AllowLabelChange:     true,
		AllowContactChange:   true,
		AllowImport:          true,
		AllowExport:          true,
		PasscodeMinLength:    2,
		PasscodeMaxLength:    16,
		PasscodeDefLength:    4,
		AlphabetMinLength:    1,
		AlphabetMaxLength:    4,
		SpassAllowChange:     true,
		SpassMinLength:       7,
		SpassRequireDigit:    true,
		SpassRequireSpecial:  true,
		SpassRequireUppercase: true,
		Storage:              StorageShadow,
		ShadowPath:           "/etc/otpasswd/otshadow",
		HomeStateFile:        ".otpasswd",
	}
}

// Load reads and validates a policy document from path, starting from
// Default() and overlaying whatever the document sets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policyconfig: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("policyconfig: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency, aggregating every violation
// found rather than stopping at the first one via go-multierror, for
// batch-reporting independent failures in one pass.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.PasscodeMinLength > c.PasscodeMaxLength {
		result = multierror.Append(result, fmt.Errorf("passcode_min_length (%d) > passcode_max_length (%d)", c.PasscodeMinLength, c.PasscodeMaxLength))
	}
	if c.PasscodeDefLength < c.PasscodeMinLength || c.PasscodeDefLength > c.PasscodeMaxLength {
		result = multierror.Append(result, fmt.Errorf("passcode_def_length (%d) outside [%d, %d]", c.PasscodeDefLength, c.PasscodeMinLength, c.PasscodeMaxLength))
	}
	if c.AlphabetMinLength > c.AlphabetMaxLength {
		result = multierror.Append(result, fmt.Errorf("alphabet_min_length (%d) > alphabet_max_length (%d)", c.AlphabetMinLength, c.AlphabetMaxLength))
	}
	if c.Storage == StorageShadow && c.ShadowPath == "" {
		result = multierror.Append(result, fmt.Errorf("storage mode \"shadow\" requires shadow_path"))
	}
	if c.Storage == StorageHomeDir && c.HomeStateFile == "" {
		result = multierror.Append(result, fmt.Errorf("storage mode \"home\" requires home_state_file"))
	}

	return result.ErrorOrNil()
}

// PreflightOwnership verifies the config file at path is owned by
// root and not world-readable, as required when a remote DB is
// configured (spec.md §6). Returns a sentinel distinguishing
// ownership from permission violations so the caller can map them to
// ConfigOwnership / ConfigPermissions init-frame statuses.
func PreflightOwnership(path string, remoteDBConfigured bool) error {
	if !remoteDBConfigured {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("policyconfig: stat %s: %w", path, err)
	}

	if owner, ok := fileOwnerUID(info); ok && owner != 0 {
		return ErrConfigOwnership
	}

	if info.Mode().Perm()&0o004 != 0 {
		return ErrConfigPermissions
	}

	return nil
}

// ErrConfigOwnership and ErrConfigPermissions are the two preflight
// failure sentinels referenced by spec.md §6.
var (
	ErrConfigOwnership   = fmt.Errorf("policyconfig: config file is not owned by root")
	ErrConfigPermissions = fmt.Errorf("policyconfig: config file is world-readable")
)
