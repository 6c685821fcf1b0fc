package engine

// CampaignMatches reports whether every rule of the campaign holds for the cart.
// A campaign without rules never matches.
func CampaignMatches(c Campaign, cart CartData) bool {
	if len(c.Rules) == 0 {
		return false
	}
	for _, r := range c.Rules {
		if !Evaluate(r, cart) {
			return false
		}
	}
	return true
}

// eligible filters campaigns down to those fully satisfied by the cart, keeping source order.
func eligible(cs []Campaign, cart CartData) []Campaign {
	var out []Campaign
	for _, c := range cs {
		if !c.autoApplied() {
			continue
		}
		if CampaignMatches(c, cart) {
			out = append(out, c)
		}
	}
	return out
}
