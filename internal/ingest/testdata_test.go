package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const headerCSV = `CHAVE DE ACESSO,MODELO,DATA EMISSÃO,CPF/CNPJ Emitente,RAZÃO SOCIAL EMITENTE,UF EMITENTE,MUNICÍPIO EMITENTE,CNPJ DESTINATÁRIO,NOME DESTINATÁRIO,UF DESTINATÁRIO,VALOR NOTA FISCAL
K1,55,2024-01-02,11222333000144,PAPELARIA CENTRAL LTDA,SP,SÃO PAULO,00394460000141,MINISTERIO DA FAZENDA,DF,150.00
K2,55,2024-01-03,55666777000188,"DISTRIBUIDORA NORTE, SA",AM,MANAUS,00394460000141,MINISTERIO DA FAZENDA,DF,89.90
`

const itemsCSV = `CHAVE DE ACESSO,NÚMERO PRODUTO,DESCRIÇÃO DO PRODUTO/SERVIÇO,CÓDIGO NCM/SH,NATUREZA DA OPERAÇÃO,CFOP,QUANTIDADE,UNIDADE,VALOR UNITÁRIO,VALOR TOTAL
K1,1,CANETA ESFEROGRÁFICA AZUL,96081000,VENDA,5102,100,UN,1.00,100.00
K1,2,PAPEL A4,48025610,VENDA,5102,10,RESMA,5.00,50.00
K2,1,CAFÉ TORRADO,09012100,VENDA,6102,10,KG,8.99,89.90
K9,1,ITEM SEM CABEÇALHO,00000000,VENDA,5102,1,UN,3.00,3.00
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readString(t *testing.T, content string, cols []string, maxRows int) *Table {
	t.Helper()
	tbl, err := ReadTable(strings.NewReader(content), ReadOptions{Columns: cols, MaxRows: maxRows})
	require.NoError(t, err)
	return tbl
}
