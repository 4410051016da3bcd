package motion

import "math/rand"

// Profile is the driving character of a demo car.
type Profile struct {
	Name       string
	BaseSpeed  float64 // m/s on a clear track
	Aggression float64 // 0..1, scales lane wander and excursions
}

var (
	Conservative = Profile{Name: "conservative", BaseSpeed: 70, Aggression: 0.5}
	Normal       = Profile{Name: "normal", BaseSpeed: 85, Aggression: 0.7}
	Aggressive   = Profile{Name: "aggressive", BaseSpeed: 100, Aggression: 0.9}
)

var profileTable = []struct {
	profile Profile
	weight  float64
}{
	{Conservative, 0.3},
	{Normal, 0.4},
	{Aggressive, 0.3},
}

// RandomProfile draws a profile by weight and varies its base speed by
// ±20% so no two cars are identical.
func RandomProfile(rng *rand.Rand) Profile {
	r := rng.Float64()
	p := Normal
	sum := 0.0
	for _, row := range profileTable {
		sum += row.weight
		if r < sum {
			p = row.profile
			break
		}
	}
	p.BaseSpeed *= 0.8 + rng.Float64()*0.4
	return p
}
