package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	data := []byte("sign me")
	sig, err := id.Sign(data)
	require.NoError(t, err)

	assert.True(t, id.Verify(data, sig, id.PublicKey()))
	assert.False(t, id.Verify([]byte("other data"), sig, id.PublicKey()))
	assert.False(t, id.Verify(data, sig, []byte("short key")))

	other, err := NewIdentity()
	require.NoError(t, err)
	assert.False(t, id.Verify(data, sig, other.PublicKey()), "wrong key must not verify")
}

func TestFingerprintStable(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	fp1, err := id.Fingerprint()
	require.NoError(t, err)
	fp2, err := id.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64, "hex BLAKE2b-256 digest")

	other, err := NewIdentity()
	require.NoError(t, err)
	fpOther, err := other.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fpOther)
}

func TestPEMRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	pemData, err := id.ExportPEM()
	require.NoError(t, err)

	restored, err := ImportPEM(pemData)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), restored.PublicKey())

	// Signatures from the restored key verify against the original public key.
	sig, err := restored.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, id.Verify([]byte("payload"), sig, id.PublicKey()))
}

func TestImportPEMRejectsGarbage(t *testing.T) {
	_, err := ImportPEM([]byte("not pem at all"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSaveAndLoadFile(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "identity.pem")
	require.NoError(t, id.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), loaded.PublicKey())
}

func TestHashAndVerifyHash(t *testing.T) {
	digest, err := Hash([]byte("content"))
	require.NoError(t, err)
	assert.Len(t, digest, 32)

	ok, err := VerifyHash([]byte("content"), digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyHash([]byte("tampered"), digest)
	require.NoError(t, err)
	assert.False(t, ok)

	hexDigest, err := HashString([]byte("content"))
	require.NoError(t, err)
	assert.Len(t, hexDigest, 64)
}
