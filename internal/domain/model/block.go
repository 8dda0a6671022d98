package model

type Tx struct {
	Hash string
	From string
}

type Block struct {
	Number       uint64
	Timestamp    uint64
	Transactions []Tx
}
