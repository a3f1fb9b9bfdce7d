package gen

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/ir"
	"github.com/syssam/subgen/compiler/load"
)

func parseABI(t *testing.T, src string) *load.ABI {
	t.Helper()
	doc, err := load.ParseABI("Test", "test.json", []byte(src))
	require.NoError(t, err)
	return doc
}

func unitNames(g *ir.Group) []string {
	names := make([]string, len(g.Units))
	for i, u := range g.Units {
		names[i] = u.Name
	}
	return names
}

func TestMapABI(t *testing.T) {
	t.Run("erc20 fixture", func(t *testing.T) {
		doc, err := load.LoadABI("ERC20", "../load/testdata/abis/ERC20.json")
		require.NoError(t, err)

		g, err := MapABI(doc)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Transfer", "Transfer__Params",
			"BalanceOfCall", "BalanceOfCall__Inputs", "BalanceOfCall__Outputs",
		}, unitNames(g))

		ev, ok := g.Lookup("Transfer")
		require.True(t, ok)
		assert.Equal(t, ir.KindEvent, ev.Kind)
		assert.Equal(t, "Transfer(address,address,uint256)", ev.Signature)

		params, _ := g.Lookup("Transfer__Params")
		require.Len(t, params.Members, 3)
		assert.Equal(t, ir.Member{Name: "from", Index: 0, Type: ir.TypeRef{Scalar: ir.Address}}, params.Members[0])
		assert.Equal(t, ir.BigInt, params.Members[2].Type.Scalar)

		outputs, _ := g.Lookup("BalanceOfCall__Outputs")
		require.Len(t, outputs.Members, 1)
		assert.Equal(t, "value0", outputs.Members[0].Name)
	})

	t.Run("scalar table", func(t *testing.T) {
		g, err := MapABI(parseABI(t, `[{"type":"event","name":"All","inputs":[
			{"name":"a","type":"int8"},
			{"name":"b","type":"uint256"},
			{"name":"c","type":"bool"},
			{"name":"d","type":"string"},
			{"name":"e","type":"address"},
			{"name":"f","type":"bytes32"},
			{"name":"g","type":"bytes"},
			{"name":"h","type":"address[]"},
			{"name":"i","type":"uint8[2][]"}
		]}]`))
		require.NoError(t, err)
		params, _ := g.Lookup("All__Params")
		want := []string{"BigInt!", "BigInt!", "Boolean!", "String!", "Address!", "Bytes!", "Bytes!", "[Address!]!", "[[BigInt!]!]!"}
		for i, m := range params.Members {
			assert.Equal(t, want[i], m.Type.String(), m.Name)
		}
	})

	t.Run("indexed dynamic event params are topic hashes", func(t *testing.T) {
		g, err := MapABI(parseABI(t, `[{"type":"event","name":"Named","inputs":[
			{"name":"label","type":"string","indexed":true},
			{"name":"ids","type":"uint256[]","indexed":true},
			{"name":"owner","type":"address","indexed":true}
		]}]`))
		require.NoError(t, err)
		params, _ := g.Lookup("Named__Params")
		assert.Equal(t, ir.Bytes, params.Members[0].Type.Scalar)
		assert.False(t, params.Members[1].Type.IsList())
		assert.Equal(t, ir.Address, params.Members[2].Type.Scalar)
	})

	t.Run("overloaded events get distinct names", func(t *testing.T) {
		g, err := MapABI(parseABI(t, `[
			{"type":"event","name":"Transfer","inputs":[
				{"name":"from","type":"address","indexed":true},
				{"name":"to","type":"address","indexed":true},
				{"name":"value","type":"uint256"}]},
			{"type":"event","name":"Transfer","inputs":[
				{"name":"to","type":"address","indexed":true},
				{"name":"value","type":"uint256"}]}
		]`))
		require.NoError(t, err)

		first := "Transfer" + discriminator("Transfer(address,address,uint256)")
		second := "Transfer" + discriminator("Transfer(address,uint256)")
		require.NotEqual(t, first, second)
		assert.Equal(t, []string{first, first + "__Params", second, second + "__Params"}, unitNames(g))

		err = BindEventHandlers("Test", g, []*load.EventHandler{
			{Event: "Transfer(indexed address,indexed address,uint256)", Handler: "handleTransfer"},
			{Event: "Transfer(indexed address, uint256)", Handler: "handleMint"},
		})
		assert.NoError(t, err)
	})

	t.Run("events differing only in indexed parameters get distinct names", func(t *testing.T) {
		g, err := MapABI(parseABI(t, `[
			{"type":"event","name":"Transfer","inputs":[
				{"name":"from","type":"address","indexed":true},
				{"name":"to","type":"address","indexed":true},
				{"name":"value","type":"uint256"}]},
			{"type":"event","name":"Transfer","inputs":[
				{"name":"from","type":"address","indexed":true},
				{"name":"to","type":"address","indexed":true},
				{"name":"tokenId","type":"uint256","indexed":true}]}
		]`))
		require.NoError(t, err)

		fungible := "Transfer" + discriminator("Transfer(indexed address,indexed address,uint256)")
		nft := "Transfer" + discriminator("Transfer(indexed address,indexed address,indexed uint256)")
		require.NotEqual(t, fungible, nft)
		assert.Equal(t, []string{fungible, fungible + "__Params", nft, nft + "__Params"}, unitNames(g))
		for _, u := range g.ByKind(ir.KindEvent) {
			assert.Equal(t, "Transfer(address,address,uint256)", u.Signature)
		}
		ev, _ := g.Lookup(nft)
		assert.Equal(t, "Transfer(indexed address,indexed address,indexed uint256)", ev.IndexedSignature)

		err = BindEventHandlers("Test", g, []*load.EventHandler{
			{Event: "Transfer(indexed address,indexed address,uint256)", Handler: "handleTransfer"},
			{Event: "Transfer(address indexed, address indexed, uint256 indexed)", Handler: "handleNFTTransfer"},
		})
		assert.NoError(t, err)

		err = BindEventHandlers("Test", g, []*load.EventHandler{
			{Event: "Transfer(address,address,uint256)", Handler: "handleTransfer"},
		})
		require.Error(t, err)
		assert.True(t, subgen.IsAbiMappingError(err))
		assert.Contains(t, err.Error(), "Transfer(indexed address,indexed address,indexed uint256)")

		err = BindEventHandlers("Test", g, []*load.EventHandler{
			{Event: "Transfer(indexed address,address,uint256)", Handler: "handleTransfer"},
		})
		assert.True(t, subgen.IsAbiMappingError(err))
	})

	t.Run("overloaded functions get distinct names", func(t *testing.T) {
		g, err := MapABI(parseABI(t, `[
			{"type":"function","name":"safeTransferFrom","inputs":[{"name":"","type":"address"},{"name":"","type":"address"},{"name":"","type":"uint256"}],"outputs":[]},
			{"type":"function","name":"safeTransferFrom","inputs":[{"name":"","type":"address"},{"name":"","type":"address"},{"name":"","type":"uint256"},{"name":"","type":"bytes"}],"outputs":[]}
		]`))
		require.NoError(t, err)
		calls := g.ByKind(ir.KindCall)
		require.Len(t, calls, 2)
		assert.True(t, strings.HasPrefix(calls[0].Name, "SafeTransferFrom_"))
		assert.True(t, strings.HasSuffix(calls[0].Name, "Call"))
		assert.NotEqual(t, calls[0].Name, calls[1].Name)
	})

	t.Run("nested tuples are declared to any depth", func(t *testing.T) {
		const depth = 6
		leaf := `{"name":"amount","type":"uint256"}`
		for i := 0; i < depth; i++ {
			leaf = fmt.Sprintf(`{"name":"level%d","type":"tuple","components":[%s]}`, i, leaf)
		}
		g, err := MapABI(parseABI(t, `[{"type":"function","name":"deep","inputs":[`+leaf+`],"outputs":[]}]`))
		require.NoError(t, err)

		tuples := g.ByKind(ir.KindTuple)
		require.Len(t, tuples, depth)
		name := "DeepCall__Inputs"
		for _, u := range tuples {
			name += "_0Struct"
			assert.Equal(t, name, u.Name)
		}
		innermost := tuples[depth-1]
		require.Len(t, innermost.Members, 1)
		assert.Equal(t, ir.BigInt, innermost.Members[0].Type.Scalar)
	})

	t.Run("tuple arrays reference the tuple unit", func(t *testing.T) {
		g, err := MapABI(parseABI(t, `[{"type":"event","name":"Swap","inputs":[
			{"name":"route","type":"tuple[][]","components":[
				{"name":"pool","type":"address"},
				{"name":"fee","type":"uint24"}]}
		]}]`))
		require.NoError(t, err)
		params, _ := g.Lookup("Swap__Params")
		route := params.Members[0].Type
		assert.Equal(t, 2, route.Depth())
		assert.Equal(t, "Swap__Params_0Struct", route.Base().Unit)

		tuple, ok := g.Lookup("Swap__Params_0Struct")
		require.True(t, ok)
		assert.Equal(t, []string{"pool", "fee"}, []string{tuple.Members[0].Name, tuple.Members[1].Name})
	})

	t.Run("function types are rejected", func(t *testing.T) {
		_, err := MapABI(parseABI(t, `[{"type":"function","name":"hook","inputs":[{"name":"cb","type":"function"}],"outputs":[]}]`))
		require.Error(t, err)
		assert.True(t, subgen.IsAbiMappingError(err))
		assert.Contains(t, err.Error(), "hook(function)")
	})

	t.Run("colliding unit names fail", func(t *testing.T) {
		_, err := MapABI(parseABI(t, `[
			{"type":"event","name":"PingCall","inputs":[]},
			{"type":"function","name":"ping","inputs":[],"outputs":[]},
			{"type":"event","name":"pingCall","inputs":[]}
		]`))
		require.Error(t, err)
		assert.True(t, subgen.IsAbiMappingError(err))
		assert.Contains(t, err.Error(), "collision")
	})

	t.Run("constructors and fallbacks are skipped", func(t *testing.T) {
		g, err := MapABI(parseABI(t, `[{"type":"constructor","inputs":[]},{"type":"fallback"},{"type":"receive"}]`))
		require.NoError(t, err)
		assert.Empty(t, g.Units)
	})
}

func TestBindEventHandlers(t *testing.T) {
	doc, err := load.LoadABI("ERC20", "../load/testdata/abis/ERC20.json")
	require.NoError(t, err)
	g, err := MapABI(doc)
	require.NoError(t, err)

	t.Run("accepts a matching topic0", func(t *testing.T) {
		err := BindEventHandlers("ERC20", g, []*load.EventHandler{{
			Event:   "Transfer(indexed address,indexed address,uint256)",
			Topic0:  "0xDDF252AD1BE2C89B69C2B068FC378DAA952BA7F163C4A11628F55A4DF523B3EF",
			Handler: "handleTransfer",
		}})
		assert.NoError(t, err)
	})

	t.Run("rejects an unknown event", func(t *testing.T) {
		err := BindEventHandlers("ERC20", g, []*load.EventHandler{{Event: "Approval(address,address,uint256)", Handler: "handleApproval"}})
		require.Error(t, err)
		assert.True(t, subgen.IsAbiMappingError(err))
		assert.Contains(t, err.Error(), "Approval(address,address,uint256)")
	})

	t.Run("rejects a mismatched topic0", func(t *testing.T) {
		err := BindEventHandlers("ERC20", g, []*load.EventHandler{{
			Event:   "Transfer(address,address,uint256)",
			Topic0:  "0x01",
			Handler: "handleTransfer",
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "topic0")
	})
}

func TestBindCallHandlers(t *testing.T) {
	doc, err := load.LoadABI("ERC20", "../load/testdata/abis/ERC20.json")
	require.NoError(t, err)
	g, err := MapABI(doc)
	require.NoError(t, err)

	assert.NoError(t, BindCallHandlers("ERC20", g, []*load.CallHandler{{Function: "balanceOf(address)", Handler: "handleBalance"}}))
	err = BindCallHandlers("ERC20", g, []*load.CallHandler{{Function: "mint(address)", Handler: "handleMint"}})
	require.Error(t, err)
	assert.True(t, subgen.IsAbiMappingError(err))
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", topic0("Transfer(address,address,uint256)"))
	assert.Equal(t, "_a9059cbb", discriminator("transfer(address,uint256)"))
	assert.Equal(t, "Transfer(address,address,uint256)", NormalizeSignature("Transfer(indexed address, indexed address, uint256)"))
	assert.Equal(t, "value3", memberName("", 3))
	assert.Equal(t, "tokenId", memberName("token-id", 0))
	assert.Equal(t, []string{"a0", "b", "a2"}, uniqueMembers([]string{"a", "b", "a"}))
	assert.Equal(t, []string{"a0", "a2", "a1"}, uniqueMembers([]string{"a", "a", "a1"}))
	assert.Equal(t, "Transfer(address,address,uint256)", NormalizeSignature("Transfer(address indexed,address indexed,uint256)"))
	assert.Equal(t, "Swap(indexed address,(uint256,bool)[])", MarkIndexed("Swap(address indexed, (uint256, bool)[])"))
	assert.Equal(t, "Ping()", MarkIndexed("Ping()"))
}
