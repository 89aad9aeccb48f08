package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"panelworks/api_tokens/pkg/api/bursar"
	"panelworks/api_tokens/pkg/billing"
)

// GetCatalog returns the purchasable plans and token packages. Read-only
// view of the injected price table, for the panel's pricing pages.
func GetCatalog(c *gin.Context) {
	prices := checkout.Prices()
	currency := billing.DefaultCurrency()

	catalog := bursar.CatalogResponse{Currency: currency}
	for _, plan := range prices.Plans {
		catalog.Plans = append(catalog.Plans, bursar.CatalogPlan{
			Code:         plan.Code,
			Name:         plan.Name,
			MonthlyPrice: plan.MonthlyPrice,
			YearlyPrice:  plan.YearlyPrice,
			SeatLimit:    prices.SeatLimit(plan.Code),
			WelcomeGrant: prices.Grants[plan.Code],
		})
	}
	for _, pkg := range prices.Packages {
		catalog.Packages = append(catalog.Packages, bursar.CatalogPackage{
			ID:     pkg.ID,
			Name:   pkg.Name,
			Price:  pkg.Price,
			Tokens: pkg.Tokens,
		})
	}

	// Map iteration order is random; present cheapest first.
	sort.Slice(catalog.Plans, func(i, j int) bool {
		return catalog.Plans[i].MonthlyPrice < catalog.Plans[j].MonthlyPrice
	})
	sort.Slice(catalog.Packages, func(i, j int) bool {
		return catalog.Packages[i].Price < catalog.Packages[j].Price
	})

	c.JSON(http.StatusOK, catalog)
}
