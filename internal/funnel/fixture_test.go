package funnel

import "github.com/noah-isme/funnel-api/internal/catalog"

func fixtureProduct() catalog.Product {
	return catalog.Product{
		Slug: "course",
		Name: "Course",
		Main: catalog.Offer{Name: "Course", Enabled: true, Pricing: catalog.Pricing{Amount: 9900, Currency: "USD"}},
		Bump: &catalog.Offer{ID: "bump-1", Role: catalog.RoleBump, Name: "Workbook", Enabled: true, CheckboxLabel: "Add the workbook", Pricing: catalog.Pricing{Amount: 1900, Currency: "USD"}},
		Upsells: []catalog.Offer{
			{ID: "up-1", Role: catalog.RoleUpsell, Name: "Coaching", Headline: "Wait!", Enabled: true, Pricing: catalog.Pricing{Amount: 19900, Currency: "USD"}},
			{ID: "up-2", Role: catalog.RoleUpsell, Name: "Templates", Headline: "One more", Enabled: false, Pricing: catalog.Pricing{Amount: 4900, Currency: "USD"}},
			{ID: "up-3", Role: catalog.RoleUpsell, Name: "Community", Headline: "Join", Enabled: true, Pricing: catalog.Pricing{Amount: 2900, Currency: "USD"}},
		},
		Downsell: &catalog.Offer{ID: "down-1", Role: catalog.RoleDownsell, Name: "Lite coaching", Headline: "How about", Enabled: true, Pricing: catalog.Pricing{Amount: 9900, Currency: "USD"}},
	}
}
