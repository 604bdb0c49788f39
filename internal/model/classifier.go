package model

// Classifier is a flat reference-table entry (countries, address types,
// street types, settlement types, document types). Ids are assigned by the
// upstream and used as-is for the local primary key.
type Classifier struct {
	ID    int64  `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Region is an administrative region entry.
type Region struct {
	ID     int64  `json:"id"`
	APIID  string `json:"api_id"`
	Koatuu string `json:"koatuu"`
	Title  string `json:"title"`
}

// District is a region-level district entry.
type District struct {
	ID       int64  `json:"id"`
	APIID    string `json:"api_id"`
	Koatuu   string `json:"koatuu"`
	Title    string `json:"title"`
	RegionID *int64 `json:"region_id"`
}

// SettlementRef is the nested parent reference carried by a settlement.
type SettlementRef struct {
	ID int64 `json:"id"`
}

// Settlement is one settlement in the full response view, with its parent
// region, district, and settlement type nested.
type Settlement struct {
	ID                 int64          `json:"id"`
	APIID              string         `json:"api_id"`
	Koatuu             string         `json:"koatuu"`
	Title              string         `json:"title"`
	Region             *SettlementRef `json:"region"`
	District           *SettlementRef `json:"district"`
	SettlementType     *Classifier    `json:"settlement_type"`
	ParentSettlementID *int64         `json:"parent_settlement_id"`
}

// CityDistrict is a district inside a settlement (city).
type CityDistrict struct {
	ID           int64  `json:"id"`
	Koatuu       string `json:"koatuu"`
	Title        string `json:"title"`
	SettlementID *int64 `json:"settlement_id"`
}
