package keyfile

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
)

const ppkFormatVersion = "sshcore-ssh2-key-v1"

const ppkLineWidth = 64

// PPKKeyFile is a parsed structured-text SSH-2 key file: an algorithm
// name, a base64 public blob, and an optional passphrase-wrapped base64
// private blob protected by a MAC over the whole file. Only ssh-rsa
// keys are currently produced and consumed; the shape extends to other
// SSH-2 host-key algorithms by adding an encoder/decoder pair for their
// private fields alongside rsaPrivateFields/parseRSAPrivateFields.
type PPKKeyFile struct {
	Algorithm  string
	Comment    string
	Encrypted  bool
	PublicBlob []byte

	privateRaw []byte // on-disk bytes (ciphertext iff Encrypted, else plaintext)
	mac        []byte
}

// WritePPKKey serializes an RSA key pair into the structured PPK-style
// format. If passphrase is non-empty, the private blob is wrapped under
// an AES-256-CBC key derived from it.
func WritePPKKey(w io.Writer, priv *rsa.PrivateKey, comment, passphrase string) error {
	priv.Precompute()
	hostKey := algorithms.NewRSAHostKeyFromPrivate(priv)
	publicBlob := hostKey.Blob()
	privatePlain := rsaPrivateFields(priv)

	mac := ppkComputeMAC("ssh-rsa", comment, publicBlob, privatePlain, passphrase)

	privateOnDisk := append([]byte(nil), privatePlain...)
	encrypted := passphrase != ""
	if encrypted {
		for len(privateOnDisk)%aes.BlockSize != 0 {
			privateOnDisk = append(privateOnDisk, 0)
		}
		if err := ppkCryptPrivateBlob(privateOnDisk, passphrase, true); err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", ppkFormatVersion)
	fmt.Fprintf(bw, "algorithm: ssh-rsa\n")
	fmt.Fprintf(bw, "comment: %s\n", comment)
	writeBase64Block(bw, "public-lines", publicBlob)
	if encrypted {
		fmt.Fprintf(bw, "encryption: aes256-cbc\n")
	} else {
		fmt.Fprintf(bw, "encryption: none\n")
	}
	writeBase64Block(bw, "private-lines", privateOnDisk)
	fmt.Fprintf(bw, "mac: %x\n", mac)
	return bw.Flush()
}

func writeBase64Block(bw *bufio.Writer, label string, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	lines := (len(encoded) + ppkLineWidth - 1) / ppkLineWidth
	fmt.Fprintf(bw, "%s: %d\n", label, lines)
	for i := 0; i < len(encoded); i += ppkLineWidth {
		end := i + ppkLineWidth
		if end > len(encoded) {
			end = len(encoded)
		}
		fmt.Fprintf(bw, "%s\n", encoded[i:end])
	}
}

// ReadPPKKey parses the structured text framing. Decrypt must be called
// to recover the usable *rsa.PrivateKey and validate the MAC.
func ReadPPKKey(r io.Reader) (*PPKKeyFile, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !sc.Scan() {
		return nil, fmt.Errorf("keyfile: empty ppk file")
	}
	if strings.TrimSpace(sc.Text()) != ppkFormatVersion {
		return nil, fmt.Errorf("keyfile: not an sshcore ppk file (bad header)")
	}

	kf := &PPKKeyFile{}
	var encryption string

	readField := func(label string) (string, error) {
		if !sc.Scan() {
			return "", fmt.Errorf("keyfile: unexpected eof reading %q", label)
		}
		line := sc.Text()
		prefix := label + ": "
		if !strings.HasPrefix(line, prefix) {
			return "", fmt.Errorf("keyfile: expected field %q, got %q", label, line)
		}
		return strings.TrimPrefix(line, prefix), nil
	}

	readBlock := func(label string) ([]byte, error) {
		countStr, err := readField(label)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(countStr)
		if err != nil {
			return nil, fmt.Errorf("keyfile: bad line count for %q: %w", label, err)
		}
		var b strings.Builder
		for i := 0; i < n; i++ {
			if !sc.Scan() {
				return nil, fmt.Errorf("keyfile: unexpected eof in %q block", label)
			}
			b.WriteString(strings.TrimSpace(sc.Text()))
		}
		return base64.StdEncoding.DecodeString(b.String())
	}

	alg, err := readField("algorithm")
	if err != nil {
		return nil, err
	}
	kf.Algorithm = alg
	if alg != "ssh-rsa" {
		return nil, fmt.Errorf("keyfile: unsupported ppk algorithm %q", alg)
	}

	comment, err := readField("comment")
	if err != nil {
		return nil, err
	}
	kf.Comment = comment

	pub, err := readBlock("public-lines")
	if err != nil {
		return nil, fmt.Errorf("keyfile: read public blob: %w", err)
	}
	kf.PublicBlob = pub

	encryption, err = readField("encryption")
	if err != nil {
		return nil, err
	}
	kf.Encrypted = encryption != "none"
	if kf.Encrypted && encryption != "aes256-cbc" {
		return nil, fmt.Errorf("keyfile: unsupported ppk encryption %q", encryption)
	}

	priv, err := readBlock("private-lines")
	if err != nil {
		return nil, fmt.Errorf("keyfile: read private blob: %w", err)
	}
	kf.privateRaw = priv

	macLine, err := readField("mac")
	if err != nil {
		return nil, err
	}
	mac, err := hex.DecodeString(strings.TrimSpace(macLine))
	if err != nil {
		return nil, fmt.Errorf("keyfile: bad mac field: %w", err)
	}
	kf.mac = mac

	return kf, nil
}

// Decrypt recovers the RSA private key, verifying the MAC over the
// whole file (which also authenticates the passphrase when the file is
// encrypted).
func (k *PPKKeyFile) Decrypt(passphrase string) (*rsa.PrivateKey, error) {
	plain := append([]byte(nil), k.privateRaw...)
	if k.Encrypted {
		if len(plain)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("keyfile: encrypted private blob is not block-aligned")
		}
		if err := ppkCryptPrivateBlob(plain, passphrase, false); err != nil {
			return nil, err
		}
	}

	rd := packet.NewReader(plain)
	d, err := rd.MpintSSH2()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read private exponent: %w", err)
	}
	_, err = rd.MpintSSH2() // iqmp: recomputed by (*rsa.PrivateKey).Precompute
	if err != nil {
		return nil, fmt.Errorf("keyfile: read iqmp: %w", err)
	}
	q, err := rd.MpintSSH2()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read q: %w", err)
	}
	p, err := rd.MpintSSH2()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read p: %w", err)
	}

	// Recover the unpadded plaintext length for the MAC from what the reader
	// consumed: the framed fields above are self-delimiting, so only their exact
	// byte span (not the zero padding) feeds the MAC, matching how
	// WritePPKKey computed it before padding.
	consumed := len(plain) - len(rd.Rest())
	privatePlain := plain[:consumed]

	wantMAC := ppkComputeMAC(k.Algorithm, k.Comment, k.PublicBlob, privatePlain, passphrase)
	if !hmac.Equal(wantMAC, k.mac) {
		return nil, fmt.Errorf("keyfile: mac mismatch (wrong passphrase or corrupt file)")
	}

	rsaPub, ok := parseRSAPublicBlob(k.PublicBlob)
	if !ok {
		return nil, fmt.Errorf("keyfile: public blob is not an ssh-rsa key")
	}

	priv := &rsa.PrivateKey{
		PublicKey: *rsaPub,
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("keyfile: mac verified but key is invalid: %w", err)
	}
	priv.Precompute()
	return priv, nil
}

func rsaPrivateFields(priv *rsa.PrivateKey) []byte {
	b := packet.NewRawBuilder()
	b.MpintSSH2(priv.D)
	b.MpintSSH2(priv.Precomputed.Qinv)
	b.MpintSSH2(priv.Primes[1]) // q
	b.MpintSSH2(priv.Primes[0]) // p
	return b.Bytes()
}

func parseRSAPublicBlob(blob []byte) (*rsa.PublicKey, bool) {
	r := packet.NewReader(blob)
	keytype, err := r.Str()
	if err != nil || keytype != "ssh-rsa" {
		return nil, false
	}
	e, err := r.MpintSSH2()
	if err != nil {
		return nil, false
	}
	n, err := r.MpintSSH2()
	if err != nil {
		return nil, false
	}
	return &rsa.PublicKey{E: int(e.Int64()), N: n}, true
}

// ppkComputeMAC authenticates every field of the file, binding the
// (possibly empty) passphrase to the whole structure rather than just
// the encrypted blob, so a tampered public blob or comment is detected
// even on an unencrypted key.
func ppkComputeMAC(algorithm, comment string, publicBlob, privatePlain []byte, passphrase string) []byte {
	b := packet.NewRawBuilder()
	b.Str(algorithm)
	b.Str(comment)
	b.String(publicBlob)
	b.String(privatePlain)

	key := sha256.Sum256([]byte("sshcore-ppk-mac-key-v1:" + passphrase))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(b.Bytes())
	return mac.Sum(nil)
}

func ppkCryptPrivateBlob(buf []byte, passphrase string, encrypt bool) error {
	key := sha256.Sum256([]byte("sshcore-ppk-enc-key-v1:" + passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("keyfile: init aes256: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, buf)
	}
	return nil
}

