package auth

import (
	"testing"
	"time"
)

func TestVerifyCached_ReturnsCachedClaimsWithoutReverifying(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("acc-1", nil, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	cache := NewVerificationCache(time.Minute)
	claims1, err := VerifyCached(cache, tok, cfg)
	if err != nil {
		t.Fatalf("VerifyCached: %v", err)
	}

	// Wrong secret would normally fail VerifyToken; the cache must still
	// serve the previously-verified result for the same token string.
	wrongCfg := TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"}
	claims2, err := VerifyCached(cache, tok, wrongCfg)
	if err != nil {
		t.Fatalf("expected cache hit to bypass secret check, got error: %v", err)
	}
	if claims1.AccountID != claims2.AccountID {
		t.Fatalf("expected identical claims from cache")
	}
}

func TestVerificationCache_ExpiresEntries(t *testing.T) {
	cache := NewVerificationCache(-time.Second)
	cache.Put("tok", &Claims{AccountID: "acc-1"})

	if _, ok := cache.Get("tok"); ok {
		t.Fatalf("expected expired entry to be evicted")
	}
}
