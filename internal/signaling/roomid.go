package signaling

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var adjectives = []string{
	"lucky", "loaded", "golden", "silver", "crimson", "emerald", "sleepy", "jolly", "cozy", "shiny",
	"brave", "calm", "swift", "silent", "noisy", "bouncy", "fuzzy", "plucky", "merry", "peppy",
	"tiny", "happy", "fluffy", "sparkly", "cheery", "silly", "bright", "gentle", "wild", "sly",
}

var creatures = []string{
	"dragon", "unicorn", "griffin", "phoenix", "goblin", "gnome", "sprite", "pixie", "kraken", "wyvern",
	"otter", "fox", "panda", "koala", "hedgehog", "raccoon", "badger", "ferret", "narwhal", "penguin",
	"toucan", "parrot", "owl", "raven", "beaver", "lynx", "bison", "walrus", "gecko", "newt",
}

var things = []string{
	"tavern", "lantern", "goblet", "token", "meeple", "dungeon", "castle", "tower", "scroll", "potion",
	"pebble", "marble", "button", "thimble", "biscuit", "muffin", "toffee", "cocoa", "comet", "rocket",
	"orbit", "nebula", "canyon", "ridge", "meadow", "willow", "ember", "breeze", "puddle", "cottage",
}

// NewRoomID returns a random, memorable room id such as
// "lucky-goblin-tavern". The result always passes ValidRoomID.
func NewRoomID() string {
	for {
		id := strings.Join([]string{
			adjectives[randomIndex(len(adjectives))],
			creatures[randomIndex(len(creatures))],
			things[randomIndex(len(things))],
		}, "-")
		if ValidRoomID(id) {
			return id
		}
	}
}

// randomIndex returns a uniformly random index below n.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("signaling: crypto/rand failed: " + err.Error())
	}
	return int(v.Int64())
}
