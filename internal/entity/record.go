package entity

// ExpectedRecord is one production-order line fetched from the ERP bridge.
// EAN, PalletCode and HULabel are the verification keys; the remaining
// fields ride along for reporting and export.
type ExpectedRecord struct {
	ID         int64  `json:"id"`
	LineNo     string `json:"lineNo"`
	Index      int    `json:"index"`
	Packaging  string `json:"packaging"`
	Batch      string `json:"batch"`
	Count      int    `json:"count"`
	Order      string `json:"order"`
	EAN        string `json:"ean"`
	ProdDate   string `json:"prodDate"`
	PalletCode string `json:"palletNumber"`
	HULabel    string `json:"handlingUnitLabelCode"`
}
