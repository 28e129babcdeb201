package paapi

// ResourceSet selects which response payload the vendor should return.
// The cache-refresh path only needs price and title; watch creation needs
// the full feature text for the matcher.
type ResourceSet string

const (
	ResourcesMinimal  ResourceSet = "minimal"
	ResourcesDetailed ResourceSet = "detailed"
	ResourcesFull     ResourceSet = "full"
)

var resourceBundles = map[ResourceSet][]string{
	ResourcesMinimal: {
		"ItemInfo.Title",
		"Offers.Listings.Price",
	},
	ResourcesDetailed: {
		"ItemInfo.Title",
		"ItemInfo.ByLineInfo",
		"Images.Primary.Large",
		"Offers.Listings.Price",
		"Offers.Listings.SavingBasis",
	},
	ResourcesFull: {
		"ItemInfo.Title",
		"ItemInfo.ByLineInfo",
		"ItemInfo.Features",
		"ItemInfo.TechnicalInfo",
		"Images.Primary.Large",
		"Offers.Listings.Price",
		"Offers.Listings.SavingBasis",
		"CustomerReviews.Count",
	},
}

// Resources returns the vendor resource identifiers for the set, defaulting
// to the minimal bundle for unknown values.
func (r ResourceSet) Resources() []string {
	if bundle, ok := resourceBundles[r]; ok {
		return bundle
	}
	return resourceBundles[ResourcesMinimal]
}
