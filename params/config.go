package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// TokenGenesis describes one ledger created at startup. Supply is in whole
// tokens (scaled by 10^18 at issuance); the entire supply goes to Issuer.
type TokenGenesis struct {
	Name    string
	Symbol  string
	Supply  uint64
	Address common.Address
	Issuer  common.Address
}

// Exchange holds the engine parameters fixed at construction.
type Exchange struct {
	// Custodian is the engine's own identity on the token ledgers;
	// deposited funds sit under this address.
	Custodian  common.Address
	FeeAccount common.Address
	FeePercent uint64
}

type Node struct {
	APIAddr string
	DataDir string
	LogFile string
}

type Config struct {
	Exchange Exchange
	Node     Node
	Tokens   []TokenGenesis
	Deployer common.Address
}

func Default() Config {
	deployer := common.HexToAddress("0x00000000000000000000000000000000DeadBeef")
	return Config{
		Exchange: Exchange{
			Custodian:  common.HexToAddress("0x00000000000000000000000000000000000Dc001"),
			FeeAccount: common.HexToAddress("0x00000000000000000000000000000000000Fc001"),
			FeePercent: 10,
		},
		Node: Node{
			APIAddr: ":8545",
			DataDir: "data",
			LogFile: "data/node.log",
		},
		Tokens: []TokenGenesis{
			{Name: "DApp Token", Symbol: "DAPP", Supply: 1_000_000,
				Address: common.HexToAddress("0x0000000000000000000000000000000000000A01"), Issuer: deployer},
			{Name: "Mock Ether", Symbol: "mETH", Supply: 1_000_000,
				Address: common.HexToAddress("0x0000000000000000000000000000000000000A02"), Issuer: deployer},
			{Name: "Mock Dai", Symbol: "mDAI", Supply: 1_000_000,
				Address: common.HexToAddress("0x0000000000000000000000000000000000000A03"), Issuer: deployer},
		},
		Deployer: deployer,
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Node.APIAddr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Node.LogFile = file
	}

	if fee := os.Getenv("FEE_PERCENT"); fee != "" {
		if pct, err := strconv.ParseUint(fee, 10, 64); err == nil {
			cfg.Exchange.FeePercent = pct
		}
	}
	if acct := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(acct) {
		cfg.Exchange.FeeAccount = common.HexToAddress(acct)
	}
	if cust := os.Getenv("CUSTODIAN"); common.IsHexAddress(cust) {
		cfg.Exchange.Custodian = common.HexToAddress(cust)
	}
	if dep := os.Getenv("DEPLOYER"); common.IsHexAddress(dep) {
		deployer := common.HexToAddress(dep)
		cfg.Deployer = deployer
		for i := range cfg.Tokens {
			cfg.Tokens[i].Issuer = deployer
		}
	}

	return cfg
}
