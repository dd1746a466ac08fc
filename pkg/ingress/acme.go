package ingress

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/cuemby/fabric/pkg/security"
)

// trackedCertificate is a renewable certificate obtained through ACME,
// generalized from the teacher's types.TLSCertificate (a replicated
// cluster object) down to a locally persisted record: fabric has no
// replicated certificate-store entity, so each ingress node manages its
// own certs and re-obtains them independently if its disk is lost.
type trackedCertificate struct {
	Hosts       []string
	Certificate *certificate.Resource
	NotAfter    time.Time
}

// ACMEClient manages Let's Encrypt certificate issuance and renewal for the
// reverse proxy, keeping the teacher's lego-based flow and round-robin-style
// renewal loop, adapted to fabric's DnsRecord-routed Proxy.
type ACMEClient struct {
	proxy             *Proxy
	client            *lego.Client
	user              *ACMEUser
	challengeProvider *HTTP01Provider
	secrets           *security.SecretsManager
	certDir           string

	mu    sync.RWMutex
	certs map[string]*trackedCertificate // keyed by primary host
}

// ACMEUser implements the lego registration.User interface.
type ACMEUser struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *ACMEUser) GetEmail() string                        { return u.Email }
func (u *ACMEUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *ACMEUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// HTTP01Provider implements the lego HTTP-01 challenge provider interface,
// handing off served challenges to the Proxy's request handler.
type HTTP01Provider struct {
	mu         sync.RWMutex
	challenges map[string]map[string]string // domain -> token -> keyAuth
}

// NewHTTP01Provider creates a new HTTP-01 challenge provider.
func NewHTTP01Provider() *HTTP01Provider {
	return &HTTP01Provider{challenges: make(map[string]map[string]string)}
}

func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.challenges[domain] == nil {
		p.challenges[domain] = make(map[string]string)
	}
	p.challenges[domain][token] = keyAuth
	ingressLog.Info().Str("domain", domain).Str("token", token).Msg("acme: presenting challenge")
	return nil
}

func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if domainChallenges, ok := p.challenges[domain]; ok {
		delete(domainChallenges, token)
		if len(domainChallenges) == 0 {
			delete(p.challenges, domain)
		}
	}
	return nil
}

// GetKeyAuth retrieves the key authorization for a domain/token pair.
func (p *HTTP01Provider) GetKeyAuth(domain, token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	domainChallenges, ok := p.challenges[domain]
	if !ok {
		return "", false
	}
	keyAuth, ok := domainChallenges[token]
	return keyAuth, ok
}

// NewACMEClient creates a new ACME client targeting Let's Encrypt staging,
// registering an account and wiring its HTTP-01 provider into proxy.
// Certificate material is encrypted at rest under certDir using a key
// derived from secretsPassword.
func NewACMEClient(proxy *Proxy, email, certDir, secretsPassword string) (*ACMEClient, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme: generate account key: %w", err)
	}

	secrets, err := security.NewSecretsManagerFromPassword(secretsPassword)
	if err != nil {
		return nil, fmt.Errorf("acme: secrets manager: %w", err)
	}

	if err := os.MkdirAll(certDir, 0700); err != nil {
		return nil, fmt.Errorf("acme: create cert dir: %w", err)
	}

	user := &ACMEUser{Email: email, key: privateKey}

	config := lego.NewConfig(user)
	// Staging by default: production issuance is a deployment-time config
	// flip, not a code change (acme-v02.api.letsencrypt.org/directory).
	config.CADirURL = "https://acme-staging-v02.api.letsencrypt.org/directory"
	config.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("acme: create lego client: %w", err)
	}

	challengeProvider := NewHTTP01Provider()
	if err := client.Challenge.SetHTTP01Provider(challengeProvider); err != nil {
		return nil, fmt.Errorf("acme: set http-01 provider: %w", err)
	}
	proxy.SetChallengeProvider(challengeProvider)

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("acme: register account: %w", err)
	}
	user.Registration = reg

	ingressLog.Info().Str("email", email).Msg("acme client registered")

	return &ACMEClient{
		proxy:             proxy,
		client:            client,
		user:              user,
		challengeProvider: challengeProvider,
		secrets:           secrets,
		certDir:           certDir,
		certs:             make(map[string]*trackedCertificate),
	}, nil
}

// ObtainCertificate requests a new certificate for domains and installs it
// into the proxy's HTTPS listener.
func (a *ACMEClient) ObtainCertificate(domains []string) error {
	if len(domains) == 0 {
		return fmt.Errorf("acme: no domains requested")
	}

	ingressLog.Info().Strs("domains", domains).Msg("acme: requesting certificate")

	resource, err := a.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("acme: obtain certificate: %w", err)
	}

	tlsCert, notAfter, err := parseCertificateResource(resource)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.certs[domains[0]] = &trackedCertificate{Hosts: domains, Certificate: resource, NotAfter: notAfter}
	a.mu.Unlock()

	if err := a.persist(domains[0], resource); err != nil {
		ingressLog.Warn().Err(err).Str("host", domains[0]).Msg("failed to persist acme certificate")
	}

	a.proxy.LoadCertificate(tlsCert)
	ingressLog.Info().Strs("domains", domains).Time("not_after", notAfter).Msg("acme: certificate obtained")
	return nil
}

// RenewCertificate renews a previously obtained certificate in place.
func (a *ACMEClient) RenewCertificate(primaryHost string) error {
	a.mu.Lock()
	tracked, ok := a.certs[primaryHost]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("acme: no tracked certificate for %s", primaryHost)
	}

	renewed, err := a.client.Certificate.Renew(*tracked.Certificate, true, false, "")
	if err != nil {
		return fmt.Errorf("acme: renew certificate: %w", err)
	}

	tlsCert, notAfter, err := parseCertificateResource(renewed)
	if err != nil {
		return err
	}

	a.mu.Lock()
	tracked.Certificate = renewed
	tracked.NotAfter = notAfter
	a.mu.Unlock()

	if err := a.persist(primaryHost, renewed); err != nil {
		ingressLog.Warn().Err(err).Str("host", primaryHost).Msg("failed to persist renewed certificate")
	}

	a.proxy.LoadCertificate(tlsCert)
	ingressLog.Info().Str("host", primaryHost).Time("not_after", notAfter).Msg("acme: certificate renewed")
	return nil
}

// CheckAndRenewCertificates renews any tracked certificate within 30 days
// of expiry.
func (a *ACMEClient) CheckAndRenewCertificates() {
	const renewalThreshold = 30 * 24 * time.Hour

	a.mu.RLock()
	due := make([]string, 0, len(a.certs))
	now := time.Now()
	for host, tracked := range a.certs {
		if tracked.NotAfter.Sub(now) <= renewalThreshold {
			due = append(due, host)
		}
	}
	a.mu.RUnlock()

	for _, host := range due {
		if err := a.RenewCertificate(host); err != nil {
			ingressLog.Error().Err(err).Str("host", host).Msg("acme: renewal failed")
		}
	}
}

// StartRenewalJob starts a background loop that checks for renewals daily,
// stopping when done is closed.
func (a *ACMEClient) StartRenewalJob(done <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.CheckAndRenewCertificates()
			case <-done:
				return
			}
		}
	}()
	ingressLog.Info().Msg("acme: renewal job started")
}

func (a *ACMEClient) persist(host string, resource *certificate.Resource) error {
	plaintext := append(append([]byte{}, resource.Certificate...), resource.PrivateKey...)
	encrypted, err := a.secrets.EncryptSecret(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt certificate: %w", err)
	}
	path := filepath.Join(a.certDir, fmt.Sprintf("%s.pem.enc", host))
	return os.WriteFile(path, encrypted, 0600)
}

func parseCertificateResource(resource *certificate.Resource) (tls.Certificate, time.Time, error) {
	block, _ := pem.Decode(resource.Certificate)
	if block == nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("acme: decode certificate pem")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("acme: parse certificate: %w", err)
	}
	tlsCert, err := tls.X509KeyPair(resource.Certificate, resource.PrivateKey)
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("acme: build tls keypair: %w", err)
	}
	return tlsCert, cert.NotAfter, nil
}
