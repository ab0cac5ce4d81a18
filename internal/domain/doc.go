// Package domain models Colorado (CDPHE) wastewater SARS-CoV-2 surveillance data.
//
// # Data Source
//
// Measurements are published by the Colorado Department of Public Health and
// Environment through an ArcGIS feature service
// (CDPHE_COVID19_Wastewater_Dashboard_Data/FeatureServer/0). The same layer is
// available as a paginated JSON query endpoint and as a flat CSV export. The
// layer is edited a few times a week; the metadata endpoint reports the last
// edit as editingInfo.dataLastEditDate (epoch milliseconds).
//
// # Feature JSON
//
//	{"features": [{"attributes": {"OBJECTID": 1, "Date": 1668643200000, "Utility": "...",
//	  "SARS_COV_2_Copies_L_LP1": 12345.6, "SARS_COV_2_Copies_L_LP2": null,
//	  "Cases": 12, "Lab_Phase": "LP2"}}], "exceededTransferLimit": true}
//
// OBJECTID is an internal row identifier and is discarded. Date is epoch
// milliseconds at UTC midnight of the sample date.
//
// # CSV export
//
// One header row with the same column names as the JSON attributes. Dates are
// written as "YYYY/MM/DD hh:mm:ss+000": the UTC offset is one digit short and
// is padded to "+0000" before parsing (see [ParseCSVDate]).
//
// # Lab phases
//
// The state switched laboratories partway through the program. Copies per
// liter are reported in LP1 for the first lab and LP2 for the second; a row
// normally carries only one of them, so both are nullable.
//
// # Partial results
//
// The service intermittently returns a syntactically valid response holding
// only part of the layer (anecdotally around 20k of 40k+ rows) with no error
// signal. Completeness is therefore judged by record count against a
// threshold, never by HTTP status.
package domain
