package algorithms

import "math/big"

// KexClass selects the Diffie-Hellman group strategy for a KEX method.
type KexClass int

const (
	KexGroup1 KexClass = iota // fixed RFC 2409 Oakley group 2 (1024-bit)
	KexGroupExchange
)

// KexAlg is one entry of the KEX registry.
type KexAlg struct {
	Name  string
	Class KexClass
}

var KexRegistry = []KexAlg{
	{Name: "diffie-hellman-group-exchange-sha1", Class: KexGroupExchange},
	{Name: "diffie-hellman-group1-sha1", Class: KexGroup1},
}

// FindKex looks up a registered KEX method by name.
func FindKex(name string) (KexAlg, bool) {
	for _, k := range KexRegistry {
		if k.Name == name {
			return k, true
		}
	}
	return KexAlg{}, false
}

// Group1P is the well-known 1024-bit MODP group (RFC 2409 "Second Oakley
// Group") used by diffie-hellman-group1-sha1.
var Group1P, _ = new(big.Int).SetString(""+
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD"+
	"129024E088A67CC74020BBEA63B139B22514A08798E3404"+
	"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C"+
	"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406"+
	"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE"+
	"65381FFFFFFFFFFFFFFFF", 16)

// Group1Generator is g for the group above.
var Group1Generator = big.NewInt(2)
