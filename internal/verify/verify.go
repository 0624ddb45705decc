// Package verify checks a fetched plugin's provenance before it reaches the
// sandbox. Cryptographic signature verification via sigstore/cosign only
// applies to oci:// sources (spec §5.2); other schemes get a weaker,
// cheaper provenance label instead of a hard failure.
package verify

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"
	"github.com/sigstore/cosign/v2/pkg/cosign"
	"github.com/sigstore/sigstore/pkg/cryptoutils"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
)

// PluginBinary is the Fetcher→Verifier pipeline's handoff type (spec §3):
// the fetched bytes, their content digest, and the provenance established
// for them before they reach the sandbox.
type PluginBinary struct {
	Bytes      []byte
	Digest     digest.Digest
	Provenance Provenance
}

// Mode labels how a plugin's provenance was established.
type Mode string

const (
	// ModeSigstore means an oci:// plugin's signature was cryptographically
	// verified against a sigstore/cosign policy.
	ModeSigstore Mode = "sigstore"
	// ModeUnverified means no integrity guarantee was established at all:
	// verification was explicitly skipped (policy.InsecureSkipSignature),
	// or the plugin came over a scheme with no transport integrity of its
	// own (http, s3).
	ModeUnverified Mode = "unverified"
	// ModeTransportTLS means the plugin's only integrity guarantee is the
	// TLS channel it was fetched over (https); cosign does not apply.
	ModeTransportTLS Mode = "transport-tls"
	// ModeSourceTrusted means the plugin was read directly from a local
	// file:// path already inside the operator's trust boundary; there is
	// no network transport to secure.
	ModeSourceTrusted Mode = "source-trusted"
)

// Provenance records what, if anything, was established about a plugin's
// origin before it was loaded into the sandbox.
type Provenance struct {
	Verified     bool
	Mode         Mode
	Issuer       string
	Email        string
	URL          string
	RekorEntryID string
}

// Policy configures signature verification for oci:// plugin sources. It is
// the runtime form of the config file's top-level verification{} block
// (spec §6).
type Policy struct {
	// InsecureSkipSignature disables verification entirely, for any scheme.
	InsecureSkipSignature bool

	// UseSigstoreTUFData sources trusted Rekor/Fulcio key material from the
	// public sigstore TUF repository instead of the explicit keys below.
	UseSigstoreTUFData bool

	// RekorPubKeys are PEM-encoded Rekor transparency log public keys,
	// used when UseSigstoreTUFData is false (sigstore-keys policy).
	RekorPubKeys []string
	// FulcioCerts are PEM-encoded Fulcio root/intermediate certs, used when
	// UseSigstoreTUFData is false (sigstore-keys policy).
	FulcioCerts []string

	// CertIssuer constrains the Fulcio certificate's OIDC issuer; CertEmail,
	// or CertURL when CertEmail is empty, constrains its subject. Empty means
	// unconstrained; at least one of the three is required by Verify to
	// avoid an overly permissive keyless policy.
	CertIssuer string
	CertEmail  string
	CertURL    string
}

// Verify establishes a plugin's provenance. For oci:// sources it performs
// real sigstore signature verification against ref (unless
// InsecureSkipSignature); for any other source it returns a cheaper,
// non-cryptographic label.
func Verify(ctx context.Context, ref name.Reference, sourceScheme string, policy Policy) (Provenance, error) {
	if policy.InsecureSkipSignature {
		return Provenance{Verified: false, Mode: ModeUnverified}, nil
	}
	if sourceScheme != "oci" {
		return Provenance{Verified: false, Mode: transportMode(sourceScheme)}, nil
	}

	co, err := buildCheckOpts(ctx, policy)
	if err != nil {
		return Provenance{}, err
	}

	sigs, _, err := cosign.VerifyImageSignatures(ctx, ref, co)
	if err != nil {
		return Provenance{}, &hmcperr.VerificationFailed{
			Kind:   hmcperr.VerifyMissingEntry,
			Detail: fmt.Sprintf("verifying signatures for %s: %v", ref.Name(), err),
		}
	}
	if len(sigs) == 0 {
		return Provenance{}, &hmcperr.VerificationFailed{
			Kind:   hmcperr.VerifyMissingEntry,
			Detail: fmt.Sprintf("no valid signatures for %s", ref.Name()),
		}
	}

	sig := sigs[0]
	cert, err := sig.Cert()
	if err != nil || cert == nil {
		return Provenance{}, &hmcperr.VerificationFailed{
			Kind:   hmcperr.VerifyMissingEntry,
			Detail: fmt.Sprintf("signature for %s carries no certificate", ref.Name()),
		}
	}

	entryID := ""
	if bundle, err := sig.Bundle(); err == nil && bundle != nil {
		entryID = fmt.Sprintf("%d", bundle.Payload.LogIndex)
	}

	return Provenance{
		Verified:     true,
		Mode:         ModeSigstore,
		Issuer:       certIssuer(cert),
		Email:        certEmail(cert),
		URL:          certURL(cert),
		RekorEntryID: entryID,
	}, nil
}

// transportMode labels the non-cryptographic provenance of a non-oci source
// (spec §4.2): a local file carries no network transport to secure, https
// is protected by TLS, and http/s3 give no integrity guarantee at all.
func transportMode(sourceScheme string) Mode {
	switch sourceScheme {
	case "file":
		return ModeSourceTrusted
	case "https":
		return ModeTransportTLS
	default:
		return ModeUnverified
	}
}

func buildCheckOpts(ctx context.Context, policy Policy) (*cosign.CheckOpts, error) {
	if policy.CertIssuer == "" && policy.CertEmail == "" && policy.CertURL == "" {
		return nil, &hmcperr.VerificationFailed{
			Kind:   hmcperr.VerifyIssuerMismatch,
			Detail: "sigstore-keyless policy requires cert_issuer, cert_email or cert_url",
		}
	}

	subject := policy.CertEmail
	if subject == "" {
		subject = policy.CertURL
	}
	co := &cosign.CheckOpts{
		Identities: []cosign.Identity{{
			Issuer:  policy.CertIssuer,
			Subject: subject,
		}},
		IgnoreSCT: true,
	}

	if policy.UseSigstoreTUFData {
		rekorKeys, err := cosign.GetRekorPubs(ctx)
		if err != nil {
			return nil, &hmcperr.VerificationFailed{
				Kind:   hmcperr.VerifyMissingEntry,
				Detail: fmt.Sprintf("fetching rekor keys from sigstore TUF root: %v", err),
			}
		}
		co.RekorPubKeys = rekorKeys

		ctLogKeys, err := cosign.GetCTLogPubs(ctx)
		if err != nil {
			return nil, &hmcperr.VerificationFailed{
				Kind:   hmcperr.VerifyMissingEntry,
				Detail: fmt.Sprintf("fetching ctlog keys from sigstore TUF root: %v", err),
			}
		}
		co.CTLogPubKeys = ctLogKeys

		roots, err := cosign.GetRootFromSigstoreTUF(ctx)
		if err != nil {
			return nil, &hmcperr.VerificationFailed{
				Kind:   hmcperr.VerifyMissingEntry,
				Detail: fmt.Sprintf("fetching fulcio roots from sigstore TUF root: %v", err),
			}
		}
		co.RootCerts = roots
		return co, nil
	}

	rekorKeys := cosign.NewTrustedTransparencyLogPubKeys()
	for _, pemKey := range policy.RekorPubKeys {
		if err := rekorKeys.AddTransparencyLogPubKey([]byte(pemKey), cosign.TUFStatusActive); err != nil {
			return nil, &hmcperr.VerificationFailed{
				Kind:   hmcperr.VerifyMissingEntry,
				Detail: fmt.Sprintf("loading rekor public key: %v", err),
			}
		}
	}
	co.RekorPubKeys = &rekorKeys

	roots := x509.NewCertPool()
	for _, pemCert := range policy.FulcioCerts {
		certs, err := cryptoutils.UnmarshalCertificatesFromPEM([]byte(pemCert))
		if err != nil {
			return nil, &hmcperr.VerificationFailed{
				Kind:   hmcperr.VerifyMissingEntry,
				Detail: fmt.Sprintf("loading fulcio cert: %v", err),
			}
		}
		for _, c := range certs {
			roots.AddCert(c)
		}
	}
	co.RootCerts = roots

	return co, nil
}

func certIssuer(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if ext.Id.String() == "1.3.6.1.4.1.57264.1.1" {
			return string(ext.Value)
		}
	}
	return ""
}

func certEmail(cert *x509.Certificate) string {
	if len(cert.EmailAddresses) > 0 {
		return cert.EmailAddresses[0]
	}
	return ""
}

func certURL(cert *x509.Certificate) string {
	for _, u := range cert.URIs {
		return u.String()
	}
	return ""
}
