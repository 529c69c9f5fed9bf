/**
 * @description
 * This file defines the read-only data plan catalog models. The catalog is
 * maintained by the VTU provider and fetched (with caching) by the gateway
 * client; the session engine only selects from it.
 */

package domain

// Network is a mobile network operator offering airtime and data.
type Network struct {
	Code string `json:"code"` // provider network code, e.g. "mtn"
	Name string `json:"name"`
}

// DataPlan is one purchasable bundle. Price is the catalog base price in kobo;
// the service fee is added on top at selection time.
type DataPlan struct {
	ID       string `json:"id"`
	Network  string `json:"network"`
	Validity string `json:"validity"` // e.g. "daily", "weekly", "monthly"
	Label    string `json:"label"`    // e.g. "1.5GB - 30 days"
	Price    int64  `json:"price"`    // in kobo
}
