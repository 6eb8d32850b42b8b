package kiwoom

// API identifiers passed in the api-id header. Every account endpoint shares
// the same path; the header selects the operation.
const (
	accountPath = "/api/dostk/acnt"
	tokenPath   = "/oauth2/token"

	accountBalanceAPIID = "kt00018"
	tradeHistoryAPIID   = "kt00007"
	realizedPnLAPIID    = "ka10074"
)

// Continuation headers for paginated queries.
const (
	headerContinuation = "cont-yn"
	headerNextKey      = "next-key"
	headerAPIID        = "api-id"
)

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	ReturnCode int    `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
}

type accountBalanceRequest struct {
	QueryType      string `json:"qry_tp"`
	DomesticStexTp string `json:"dmst_stex_tp"`
}

type realizedPnLRequest struct {
	StartDate string `json:"strt_dt"`
	EndDate   string `json:"end_dt"`
}

type tradeHistoryRequest struct {
	OrderDate      string `json:"ord_dt"`
	QueryType      string `json:"qry_tp"`
	StockBondType  string `json:"stk_bond_tp"`
	SellType       string `json:"sell_tp"`
	StockCode      string `json:"stk_cd"`
	FromOrderNo    string `json:"fr_ord_no"`
	DomesticStexTp string `json:"dmst_stex_tp"`
}

type tradeHistoryResponse struct {
	Trades     []tradeHistoryRow `json:"acnt_ord_cntr_prps_dtl"`
	ReturnCode int               `json:"return_code"`
	ReturnMsg  string            `json:"return_msg"`
}

// tradeHistoryRow mirrors one execution entry. Numeric fields arrive as
// strings, frequently blank.
type tradeHistoryRow struct {
	OrderDate     string `json:"ord_dt"`
	OrderTime     string `json:"ord_tm"`
	StockCode     string `json:"stk_cd"`
	StockName     string `json:"stk_nm"`
	CreditClass   string `json:"crd_class"`
	IOTypeName    string `json:"io_tp_nm"`
	ExecutedQty   string `json:"cntr_qty"`
	ExecutedPrice string `json:"cntr_uv"`
	OrderNo       string `json:"ord_no"`
}
