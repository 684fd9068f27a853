package inventory

import (
	"encoding/json"
	"net/http"
)

type productResponse struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	AvailableQuantity int    `json:"availableQuantity"`
	ReservedQuantity  int    `json:"reservedQuantity"`
}

// ProductsHandler serves the current stock levels as JSON.
func ProductsHandler(repo Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := repo.Products(r.Context())
		if err != nil {
			http.Error(w, "failed to list products", http.StatusInternalServerError)
			return
		}

		resp := make([]productResponse, 0, len(products))
		for _, p := range products {
			resp = append(resp, productResponse{
				ID:                p.ID,
				Name:              p.Name,
				AvailableQuantity: p.AvailableQuantity,
				ReservedQuantity:  p.ReservedQuantity,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
