package classify

// Sector is one node of the ICB-like industry taxonomy.
type Sector struct {
	ID       string
	Name     string
	Level    int
	ParentID string
}

// icbSectors is the two-level taxonomy used for sector codes.
var icbSectors = map[string]Sector{
	"1000": {ID: "1000", Name: "Oil & Gas", Level: 1},
	"2000": {ID: "2000", Name: "Basic Materials", Level: 1},
	"3000": {ID: "3000", Name: "Industrials", Level: 1},
	"4000": {ID: "4000", Name: "Consumer Goods", Level: 1},
	"5000": {ID: "5000", Name: "Health Care", Level: 1},
	"6000": {ID: "6000", Name: "Consumer Services", Level: 1},
	"7000": {ID: "7000", Name: "Telecommunications", Level: 1},
	"8000": {ID: "8000", Name: "Utilities", Level: 1},
	"9000": {ID: "9000", Name: "Financials", Level: 1},
	"9500": {ID: "9500", Name: "Technology", Level: 1},

	"1010": {ID: "1010", Name: "Oil & Gas Producers", Level: 2, ParentID: "1000"},
	"2010": {ID: "2010", Name: "Chemicals", Level: 2, ParentID: "2000"},
	"2030": {ID: "2030", Name: "Industrial Metals", Level: 2, ParentID: "2000"},
	"2040": {ID: "2040", Name: "Mining", Level: 2, ParentID: "2000"},
	"3050": {ID: "3050", Name: "Industrial Transportation", Level: 2, ParentID: "3000"},
	"4040": {ID: "4040", Name: "Food Producers", Level: 2, ParentID: "4000"},
	"5010": {ID: "5010", Name: "Health Care Equipment & Services", Level: 2, ParentID: "5000"},
	"6010": {ID: "6010", Name: "General Retailers", Level: 2, ParentID: "6000"},
	"7010": {ID: "7010", Name: "Fixed Line Telecommunications", Level: 2, ParentID: "7000"},
	"7020": {ID: "7020", Name: "Mobile Telecommunications", Level: 2, ParentID: "7000"},
	"8010": {ID: "8010", Name: "Electricity", Level: 2, ParentID: "8000"},
	"9010": {ID: "9010", Name: "Banks", Level: 2, ParentID: "9000"},
	"9040": {ID: "9040", Name: "Real Estate", Level: 2, ParentID: "9000"},
	"9050": {ID: "9050", Name: "Financial Services", Level: 2, ParentID: "9000"},
	"9510": {ID: "9510", Name: "Software & Computer Services", Level: 2, ParentID: "9500"},
}

// tickerSector maps exchange tickers to sector codes.
var tickerSector = map[string]string{
	"GAZP": "1010", "ROSN": "1010", "LKOH": "1010", "NVTK": "1010",
	"SNGS": "1010", "TATN": "1010", "SIBN": "1010",

	"GMKN": "2040", "PLZL": "2040", "ALRS": "2040", "RUAL": "2040",
	"NLMK": "2030", "CHMF": "2030", "MAGN": "2030",
	"PHOR": "2010", "AKRN": "2010", "NKNC": "2010",

	"SBER": "9010", "VTBR": "9010", "CBOM": "9010", "BSPB": "9010",
	"TCSG": "9050", "QIWI": "9050",

	"MGNT": "6010", "FIVE": "6010", "LENT": "6010", "OZON": "6010", "MVID": "6010",

	"MTSS": "7020", "MFON": "7020", "RTKM": "7010",

	"YNDX": "9510", "VKCO": "9510", "POSI": "9510", "HHRU": "9510", "CIAN": "9510",

	"ABRD": "4040", "AQUA": "4040", "BELU": "4040",

	"AFLT": "3050", "NMTP": "3050", "FESH": "3050", "GLTR": "3050",

	"PIKK": "9040", "LSRG": "9040", "SMLT": "9040",

	"HYDR": "8010", "IRAO": "8010", "FEES": "8010", "UPRO": "8010",

	"MDMG": "5010",
}

// sectorKeyword is one keyword bucket for sector detection; evaluated in
// order, first hit wins.
type sectorKeyword struct {
	keyword  string
	sectorID string
}

var sectorKeywords = []sectorKeyword{
	{"нефтегаз", "1010"}, {"нефть", "1010"}, {"газ", "1010"}, {"oil", "1010"}, {"petroleum", "1010"},
	{"банковск", "9010"}, {"банк", "9010"}, {"кредит", "9010"}, {"bank", "9010"},
	{"технолог", "9510"}, {"софт", "9510"}, {"интернет", "9510"}, {"software", "9510"}, {"цифров", "9510"},
	{"ритейл", "6010"}, {"торговл", "6010"}, {"retail", "6010"}, {"магазин", "6010"},
	{"металлург", "2030"}, {"металл", "2030"}, {"сталь", "2030"}, {"steel", "2030"},
	{"добыч", "2040"}, {"шахт", "2040"}, {"mining", "2040"},
	{"телеком", "7020"}, {"связь", "7020"}, {"мобильн", "7020"}, {"telecom", "7020"},
	{"электроэнерг", "8010"}, {"энергетик", "8010"}, {"electricity", "8010"},
	{"недвижимост", "9040"}, {"строительств", "9040"}, {"девелоп", "9040"},
}

// SectorByTicker resolves a sector from an exchange ticker.
func SectorByTicker(ticker string) (Sector, bool) {
	id, ok := tickerSector[ticker]
	if !ok {
		return Sector{}, false
	}
	return icbSectors[id], true
}

// SectorByKeywords resolves a sector from free text, first matching bucket
// wins.
func SectorByKeywords(textLower string) (Sector, bool) {
	for _, sk := range sectorKeywords {
		if containsFold(textLower, sk.keyword) {
			return icbSectors[sk.sectorID], true
		}
	}
	return Sector{}, false
}

// SectorByID returns the taxonomy node for a code.
func SectorByID(id string) (Sector, bool) {
	s, ok := icbSectors[id]
	return s, ok
}
