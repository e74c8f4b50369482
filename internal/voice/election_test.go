package voice

import "testing"

func TestShouldInitiateExactlyOneSide(t *testing.T) {
	addrs := []string{"0xaaa", "0xBBB", "0xccc", "0x111", "zzz", "0xAbCd"}
	for i, a := range addrs {
		for j, b := range addrs {
			if i == j {
				continue
			}
			ab := ShouldInitiate(a, b)
			ba := ShouldInitiate(b, a)
			if ab == ba {
				t.Errorf("ShouldInitiate(%q,%q)=%v and ShouldInitiate(%q,%q)=%v: exactly one side must initiate", a, b, ab, b, a, ba)
			}
		}
	}
}

func TestShouldInitiateCaseInsensitive(t *testing.T) {
	if ShouldInitiate("0xAAA", "0xaaB") {
		t.Error("0xAAA must not initiate toward 0xaaB")
	}
	if !ShouldInitiate("0xaaB", "0xAAA") {
		t.Error("0xaaB must initiate toward 0xAAA")
	}
}

func TestShouldInitiateGreaterAddressWins(t *testing.T) {
	if !ShouldInitiate("0xbbb", "0xaaa") {
		t.Error("lexicographically greater address must initiate")
	}
	if ShouldInitiate("0xaaa", "0xbbb") {
		t.Error("lexicographically smaller address must wait for the offer")
	}
}
