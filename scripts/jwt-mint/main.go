// Command jwt-mint issues RS256 tokens for local testing against the
// server's jwt_public_key_file verifier. With --generate-keys it writes a
// fresh key pair instead.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
)

func main() {
	currentUser, err := user.Current()
	if err != nil {
		currentUser = &user.User{Username: "user-1"}
	}

	keyDir := pflag.String("generate-keys", "", "Write jwt_private.pem and jwt_public.pem to this directory and exit")
	bits := pflag.Int("bits", 2048, "RSA key size for --generate-keys")
	privateKeyPath := pflag.String("key", ".auth/jwt_private.pem", "Path to RSA private key (PEM)")
	issuer := pflag.String("issuer", "https://localhost:9000", "JWT issuer")
	audience := pflag.String("audience", "taxonomy-graphql", "JWT audience (comma-separated)")
	subject := pflag.String("subject", currentUser.Username, "JWT subject")
	admin := pflag.Bool("admin", false, "Set the admin claim")
	adminClaim := pflag.String("admin-claim", "admin", "Name of the admin claim")
	orgClaim := pflag.String("org-claim", "org_permissions", "Name of the organization permissions claim")
	grants := pflag.StringArray("grant", nil, "Organization grant as org_id=perm[,perm...] (repeatable)")
	kid := pflag.String("kid", "local-key", "JWT key ID")
	expires := pflag.Duration("expires", time.Hour, "Token lifetime (e.g. 1h)")
	pflag.Parse()

	if *keyDir != "" {
		if err := generateKeys(*keyDir, *bits); err != nil {
			exitErr(err)
		}
		return
	}

	privateKey, err := loadPrivateKey(*privateKeyPath)
	if err != nil {
		exitErr(err)
	}

	orgPermissions, err := parseGrants(*grants)
	if err != nil {
		exitErr(err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": *issuer,
		"sub": *subject,
		"aud": splitList(*audience),
		"iat": now.Unix(),
		"exp": now.Add(*expires).Unix(),
		"nbf": now.Add(-1 * time.Minute).Unix(),
	}
	if *admin {
		claims[*adminClaim] = true
	}
	if len(orgPermissions) > 0 {
		claims[*orgClaim] = orgPermissions
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = *kid
	signed, err := token.SignedString(privateKey)
	if err != nil {
		exitErr(err)
	}

	fmt.Println(signed)
}

// parseGrants folds repeated org_id=perm,perm flags into the claim table.
func parseGrants(values []string) (map[string][]string, error) {
	out := make(map[string][]string, len(values))
	for _, value := range values {
		orgID, perms, ok := strings.Cut(value, "=")
		orgID = strings.TrimSpace(orgID)
		if !ok || orgID == "" {
			return nil, fmt.Errorf("invalid grant %q: expected org_id=perm[,perm...]", value)
		}
		names := splitList(perms)
		if len(names) == 0 {
			return nil, fmt.Errorf("grant for %s lists no permissions", orgID)
		}
		out[orgID] = append(out[orgID], names...)
	}
	return out, nil
}

func generateKeys(dir string, bits int) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create dir: %w", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	privatePath := filepath.Join(dir, "jwt_private.pem")
	publicPath := filepath.Join(dir, "jwt_public.pem")
	if err := writePEM(privatePath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(privateKey), 0o600); err != nil {
		return err
	}

	publicBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	if err := writePEM(publicPath, "PUBLIC KEY", publicBytes, 0o644); err != nil {
		return err
	}

	fmt.Printf("Wrote %s and %s\n", privatePath, publicPath)
	return nil
}

func writePEM(path, pemType string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := pem.Encode(file, &pem.Block{Type: pemType, Bytes: data}); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

func splitList(value string) []string {
	raw := strings.Split(value, ",")
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
