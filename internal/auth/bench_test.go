package auth

import "testing"

func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		HashPassword(testPassword) //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, err := HashPassword(testPassword)
	if err != nil {
		b.Fatalf("HashPassword: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		VerifyPassword(testPassword, hash) //nolint:errcheck // benchmark
	}
}

// The registry sits on every gated request.
func BenchmarkRegistryIsLoggedIn(b *testing.B) {
	r := NewRegistry()
	for id := int64(1); id <= 1000; id++ {
		r.Login(&User{ID: id})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var id int64
		for pb.Next() {
			id = id%1000 + 1
			r.IsLoggedIn(id)
		}
	})
}

func BenchmarkGenerateSessionToken(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateSessionToken() //nolint:errcheck // benchmark
	}
}
