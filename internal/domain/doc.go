// Package domain models community-submitted climate event reports and the
// records the verification core reasons over.
//
// # Reports
//
// A report arrives as an EvidenceBundle: the claimed event type, a description,
// and capture metadata lifted from the photo (GPS point, capture timestamp,
// device signature). The bundle is transient. It becomes an Event only when the
// verifier marks it verified, or parks it as pending for community review.
//
// Event types (canonical spelling, accepted aliases):
//
//	drought
//	flood            flooding
//	locust_swarm     locust, locusts, LocustSwarm
//	extreme_heat     heatwave, ExtremeHeat
//	heavy_rainfall   "heavy rainfall"
//	crop_failure     "crop failure"
//
// Drought contradicts flood and heavy_rainfall: a verified flood next to a
// claimed drought in the same window counts against the claim.
//
// # Coordinates
//
// Points are WGS-84 decimal degrees. A bundle without a point is incomplete;
// the core never substitutes (0,0), which is a real location in the Gulf of
// Guinea. Distances use the haversine formula on a 6371 km sphere, which is
// well within the precision of phone GPS for the 50 km correlation radius.
//
// # Trust
//
// Users carry a trust score in [0,100]. New reporters start at 50. The store
// is the only writer; updates for one user are serialized.
//
// # Regions
//
// Region names are free text from reporters and geocoders. RegionKey folds
// case and Unicode form so allocation groups "Turkana" and "TURKANA" together.
package domain
