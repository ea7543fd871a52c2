package acme

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"
)

// DomainEntry pairs a domain with the directory FilesystemDrop should write
// its challenge files under. An empty Directory means ".".
type DomainEntry struct {
	Domain    string `toml:"domain"`
	Directory string `toml:"directory"`
}

// ChallengeHandlerType selects a Publisher variant.
type ChallengeHandlerType string

const (
	ChallengeHandlerServer ChallengeHandlerType = "server"
	ChallengeHandlerFiles  ChallengeHandlerType = "files"
	ChallengeHandlerManual ChallengeHandlerType = "manual"
)

// Config is the "acme." dot-path settings tree, covering both the core
// ACME parameters and the operational surface around them (auth, escrow,
// notification, history).
type Config struct {
	EnableClient bool `toml:"enable_client" comment:"Enable ACME certificate management"`

	AccountKeyPath               string        `toml:"account_key_path" comment:"Path to the PEM-encoded ACME account private key"`
	CertificateDirectory         string        `toml:"certificate_directory" comment:"Directory certificate artifacts are resolved against"`
	CertificateFilename          string        `toml:"certificate_filename" comment:"Certificate chain filename"`
	CertificateKeyFilename       string        `toml:"certificate_key_filename" comment:"Certificate private key filename"`
	CertificateAuthorityFilename string        `toml:"certificate_authority_filename" comment:"Trusted CA bundle filename"`
	CertificateDomains           []DomainEntry `toml:"certificate_domains" comment:"Domains covered by the certificate"`

	DirectoryEndpoint string `toml:"directory_endpoint" comment:"ACME directory URL"`
	EabKid            string `toml:"eab_kid" comment:"Optional external account binding key id"`
	EabMac            string `toml:"eab_mac" comment:"Optional external account binding MAC key"`

	ChallengeHandlerType ChallengeHandlerType `toml:"challenge_handler_type" comment:"one of server, files, manual"`

	ControlAuthSecret         string `toml:"control_auth_secret" comment:"HMAC secret used to verify Control Surface bearer JWTs"`
	OperatorNotifyEmail       string `toml:"operator_notify_email" comment:"Destination address for manual-challenge notification emails"`
	AccountKeyEscrowRecipient string `toml:"account_key_escrow_recipient" comment:"age recipient the account key is mirrored to on creation"`
	HistoryDBPath             string `toml:"history_db_path" comment:"SQLite file backing the certificate history Writer"`
}

const (
	defaultAccountKeyFilename = "acme_account_key.pem"
	defaultHistoryDBFilename  = "acme_history.db"
)

// DefaultConfig returns a Config with sensible defaults resolved against
// appData.
func DefaultConfig(appData string) Config {
	return Config{
		AccountKeyPath:               filepath.Join(appData, defaultAccountKeyFilename),
		CertificateDirectory:         appData,
		CertificateFilename:          "cert.pem",
		CertificateKeyFilename:       "cert.key",
		CertificateAuthorityFilename: "cert-authorities.pem",
		DirectoryEndpoint:            "https://acme-v02.api.letsencrypt.org/directory",
		ChallengeHandlerType:         ChallengeHandlerServer,
		HistoryDBPath:                filepath.Join(appData, defaultHistoryDBFilename),
	}
}

// Validate checks the parts of Config that must hold regardless of whether
// the ACME client is enabled at the moment of a particular cycle.
func (c *Config) Validate() error {
	switch c.ChallengeHandlerType {
	case ChallengeHandlerServer, ChallengeHandlerFiles, ChallengeHandlerManual, "":
	default:
		return fmt.Errorf("config: unknown challenge_handler_type %q", c.ChallengeHandlerType)
	}
	if c.EnableClient && c.DirectoryEndpoint == "" {
		return fmt.Errorf("config: directory_endpoint cannot be empty when enabled")
	}
	return nil
}

// Artifacts resolves CertificateArtifacts against CertificateDirectory.
func (c *Config) Artifacts() CertificateArtifacts {
	return CertificateArtifacts{
		Chain:              filepath.Join(c.CertificateDirectory, c.CertificateFilename),
		Key:                filepath.Join(c.CertificateDirectory, c.CertificateKeyFilename),
		TrustedAuthorities: filepath.Join(c.CertificateDirectory, c.CertificateAuthorityFilename),
	}
}

// aceDomains IDN-ACE-encodes (Punycode) every configured domain and returns
// the domain list alongside a domain->directory map for FilesystemDrop.
func (c *Config) aceDomains() ([]string, map[string]string, error) {
	profile := idna.New(idna.MapForLookup(), idna.Transitional(false))

	domains := make([]string, 0, len(c.CertificateDomains))
	dirs := make(map[string]string, len(c.CertificateDomains))
	for _, entry := range c.CertificateDomains {
		ace, err := profile.ToASCII(strings.TrimSpace(entry.Domain))
		if err != nil {
			return nil, nil, fmt.Errorf("config: invalid domain %q: %w", entry.Domain, err)
		}
		dir := entry.Directory
		if dir == "" {
			dir = "."
		}
		domains = append(domains, ace)
		dirs[ace] = dir
	}
	return domains, dirs, nil
}
