package asn

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Tables hold the ASN membership data the classifier runs on. They are
// configuration, not code: operators can be added by editing the JSON file
// without touching the pipeline.
type Tables struct {
	Carriers    map[int]string
	Residential map[int]string
}

// tablesFile is the on-disk JSON shape; JSON object keys are strings.
type tablesFile struct {
	Carriers    map[string]string `json:"carriers"`
	Residential map[string]string `json:"residential"`
}

// LoadTables reads a membership table file. A missing file falls back to
// the built-in defaults rather than failing startup.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTables(), nil
		}
		return nil, fmt.Errorf("failed to read ASN tables: %w", err)
	}

	var file tablesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ASN tables: %w", err)
	}

	t := &Tables{
		Carriers:    make(map[int]string, len(file.Carriers)),
		Residential: make(map[int]string, len(file.Residential)),
	}
	for key, name := range file.Carriers {
		asn, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid carrier ASN %q: %w", key, err)
		}
		t.Carriers[asn] = name
	}
	for key, name := range file.Residential {
		asn, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid residential ASN %q: %w", key, err)
		}
		t.Residential[asn] = name
	}
	return t, nil
}

// IsCarrier reports whether the ASN belongs to a known mobile carrier.
func (t *Tables) IsCarrier(asn int) bool {
	_, ok := t.Carriers[asn]
	return ok
}

// IsResidential reports whether the ASN belongs to a known residential ISP.
func (t *Tables) IsResidential(asn int) bool {
	_, ok := t.Residential[asn]
	return ok
}

// DefaultTables returns the built-in membership data covering the major
// global carriers and residential ISPs.
func DefaultTables() *Tables {
	return &Tables{
		Carriers: map[int]string{
			// USA
			7018:  "AT&T",
			20057: "AT&T Mobility",
			701:   "Verizon",
			22394: "Verizon Wireless",
			6167:  "Verizon Business",
			21928: "T-Mobile USA",
			21929: "T-Mobile",
			23567: "Sprint",
			26492: "Sprint PCS",
			// International
			45029: "China Mobile",
			9808:  "China Mobile Guangdong",
			56046: "China Mobile",
			38266: "Vodafone Idea",
			12353: "Vodafone Italy",
			3209:  "Vodafone Germany",
			10207: "Orange France",
			5410:  "Bouygues Telecom",
			15557: "SFR",
			31334: "Vodafone Spain",
			6739:  "ONO Spain",
			12430: "Vodafone UK",
			2856:  "BT Group",
			4713:  "NTT DoCoMo",
			9605:  "NTT Communications",
			17676: "SoftBank",
			23655: "KDDI",
			45727: "Reliance Jio",
			55836: "Reliance Jio Infocomm",
			24560: "Bharti Airtel",
			9498:  "Bharti Airtel",
		},
		Residential: map[int]string{
			// USA
			7922:  "Comcast",
			33650: "Comcast Cable",
			33651: "Comcast Business",
			33657: "Comcast Cable Communications",
			33660: "Comcast Cable Communications",
			20115: "Charter Communications",
			11426: "Spectrum",
			12271: "Charter Fiberlink",
			10796: "Charter",
			11351: "Charter",
			22773: "Cox Communications",
			22874: "Cox Communications",
			7015:  "Frontier Communications",
			5650:  "Frontier",
			// International
			5089:  "Virgin Media",
			6830:  "Liberty Global",
			3320:  "Deutsche Telekom",
			6805:  "Telefonica Germany",
			3352:  "Telefonica Spain",
			12479: "Orange France",
			8402:  "Rostelecom",
			12389: "Rostelecom",
			4134:  "China Telecom",
			4837:  "China Unicom",
			23969: "TOT Thailand",
		},
	}
}
