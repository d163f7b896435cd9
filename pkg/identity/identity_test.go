package identity

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}

	if len(id.SigningPublicKey) != ed25519.PublicKeySize {
		t.Errorf("invalid signing public key size: %d", len(id.SigningPublicKey))
	}
	if len(id.SigningPrivateKey) != ed25519.PrivateKeySize {
		t.Errorf("invalid signing private key size: %d", len(id.SigningPrivateKey))
	}

	bid := id.BID()
	if bid == "" {
		t.Error("BID should not be empty")
	}
	if !strings.HasPrefix(bid, "hm:key:") {
		t.Errorf("BID missing expected prefix: %s", bid)
	}
}

func TestPublicKeyFromBIDRoundTrips(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	pub, err := PublicKeyFromBID(id.BID())
	if err != nil {
		t.Fatalf("PublicKeyFromBID: %v", err)
	}
	if !ed25519.PublicKey(pub).Equal(id.SigningPublicKey) {
		t.Error("recovered public key doesn't match the identity's signing key")
	}
}

func TestPublicKeyFromBIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-bid",
		"hm:key:not-hex",
		"hm:key:aabb",
	}
	for _, bid := range cases {
		if _, err := PublicKeyFromBID(bid); err == nil {
			t.Errorf("PublicKeyFromBID(%q) should have failed", bid)
		}
	}
}

func TestBIDIsStableAndUniquePerIdentity(t *testing.T) {
	a, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	b, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	if a.BID() != a.BID() {
		t.Error("BID should be stable across repeated calls")
	}
	if a.BID() == b.BID() {
		t.Error("distinct identities should have distinct BIDs")
	}
}

func TestIdentityPersistence(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "hashmesh-identity-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	original, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}

	filename := filepath.Join(tempDir, "identity.json")
	if err := original.SaveToFile(filename); err != nil {
		t.Fatalf("failed to save identity: %v", err)
	}

	loaded, err := LoadFromFile(filename)
	if err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}

	if !ed25519.PublicKey(original.SigningPublicKey).Equal(loaded.SigningPublicKey) {
		t.Error("signing public keys don't match")
	}
	if !ed25519.PrivateKey(original.SigningPrivateKey).Equal(loaded.SigningPrivateKey) {
		t.Error("signing private keys don't match")
	}
	if original.KeyAgreementPublicKey != loaded.KeyAgreementPublicKey {
		t.Error("key agreement public keys don't match")
	}
	if original.KeyAgreementPrivateKey != loaded.KeyAgreementPrivateKey {
		t.Error("key agreement private keys don't match")
	}
	if original.BID() != loaded.BID() {
		t.Errorf("BIDs don't match: %s != %s", original.BID(), loaded.BID())
	}
}

func TestIdentitySigningRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}

	message := []byte("hello, hashmesh")
	signature := ed25519.Sign(id.SigningPrivateKey, message)

	if !ed25519.Verify(id.SigningPublicKey, message, signature) {
		t.Error("signature verification failed")
	}

	wrongMessage := []byte("wrong message")
	if ed25519.Verify(id.SigningPublicKey, wrongMessage, signature) {
		t.Error("signature verification should have failed for the wrong message")
	}
}

func BenchmarkGenerateIdentity(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := GenerateIdentity(); err != nil {
			b.Fatal(err)
		}
	}
}

func TestIdentityFilePermissions(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "hashmesh-permissions-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}

	filename := filepath.Join(tempDir, "subdir", "identity.json")
	if err := id.SaveToFile(filename); err != nil {
		t.Fatalf("failed to save identity: %v", err)
	}

	if runtime.GOOS == "windows" {
		return
	}

	fileInfo, err := os.Stat(filename)
	if err != nil {
		t.Fatalf("failed to stat identity file: %v", err)
	}
	if fileInfo.Mode().Perm() != 0600 {
		t.Errorf("identity file has incorrect permissions: got %o", fileInfo.Mode().Perm())
	}

	dirInfo, err := os.Stat(filepath.Dir(filename))
	if err != nil {
		t.Fatalf("failed to stat identity directory: %v", err)
	}
	if dirInfo.Mode().Perm() != 0700 {
		t.Errorf("identity directory has incorrect permissions: got %o", dirInfo.Mode().Perm())
	}
}

func TestIdentityDirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "hashmesh-dir-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}

	filename := filepath.Join(tempDir, "level1", "level2", "identity.json")
	if err := id.SaveToFile(filename); err != nil {
		t.Fatalf("failed to save identity: %v", err)
	}

	if runtime.GOOS == "windows" {
		return
	}

	for _, dir := range []string{
		filepath.Join(tempDir, "level1"),
		filepath.Join(tempDir, "level1", "level2"),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("failed to stat directory %s: %v", dir, err)
		}
		if info.Mode().Perm() != 0700 {
			t.Errorf("directory %s has incorrect permissions: got %o", dir, info.Mode().Perm())
		}
	}
}
