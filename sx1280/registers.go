// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx1280

// The SX1280 is command driven: every transaction starts with an opcode byte, not a
// register address. Registers proper are reached through CMD_READREGISTER/WRITEREGISTER.
const (
	CMD_GETSTATUS            = 0xC0
	CMD_WRITEREGISTER        = 0x18
	CMD_READREGISTER         = 0x19
	CMD_WRITEBUFFER          = 0x1A
	CMD_READBUFFER           = 0x1B
	CMD_SETSLEEP             = 0x84
	CMD_SETSTANDBY           = 0x80
	CMD_SETFS                = 0xC1
	CMD_SETTX                = 0x83
	CMD_SETRX                = 0x82
	CMD_SETPACKETTYPE        = 0x8A
	CMD_GETPACKETTYPE        = 0x03
	CMD_SETRFFREQUENCY       = 0x86
	CMD_SETTXPARAMS          = 0x8E
	CMD_SETBUFFERBASEADDRESS = 0x8F
	CMD_SETMODULATIONPARAMS  = 0x8B
	CMD_SETPACKETPARAMS      = 0x8C
	CMD_GETRXBUFFERSTATUS    = 0x17
	CMD_GETPACKETSTATUS      = 0x1D
	CMD_SETDIOIRQPARAMS      = 0x8D
	CMD_GETIRQSTATUS         = 0x15
	CMD_CLEARIRQSTATUS       = 0x97
	CMD_SETREGULATORMODE     = 0x96
	CMD_SETAUTOFS            = 0x9E
)

// Registers reachable via CMD_READREGISTER/CMD_WRITEREGISTER.
const (
	REG_FIRMWAREREV = 0x0153 // 16-bit firmware revision, 0 or 0xFFFF means dead chip
	REG_RXGAIN      = 0x0891 // LNA gain mode, 0xC0 bits select high sensitivity
	REG_SYNCWORD    = 0x0944 // LoRa sync word MSB
)

// IRQ bits as reported by CMD_GETIRQSTATUS (16-bit).
const (
	IRQ_TXDONE            = 1 << 0
	IRQ_RXDONE            = 1 << 1
	IRQ_SYNCWORDVALID     = 1 << 2
	IRQ_SYNCWORDERROR     = 1 << 3
	IRQ_HEADERVALID       = 1 << 4
	IRQ_HEADERERROR       = 1 << 5
	IRQ_CRCERROR          = 1 << 6
	IRQ_RXTXTIMEOUT       = 1 << 14
	IRQ_PREAMBLEDETECTED  = 1 << 15
	IRQ_ALL               = 0xFFFF
	IRQ_NONE              = 0x0000
)

// Packet types for CMD_SETPACKETTYPE.
const (
	PACKET_TYPE_GFSK    = 0x00
	PACKET_TYPE_LORA    = 0x01
	PACKET_TYPE_RANGING = 0x02
	PACKET_TYPE_FLRC    = 0x03
	PACKET_TYPE_BLE     = 0x04
)

// LoRa modulation parameters.
const (
	LORA_SF5  = 0x50
	LORA_SF6  = 0x60
	LORA_SF7  = 0x70
	LORA_SF8  = 0x80
	LORA_SF9  = 0x90
	LORA_SF10 = 0xA0
	LORA_SF11 = 0xB0
	LORA_SF12 = 0xC0

	LORA_BW_1600 = 0x0A
	LORA_BW_800  = 0x18
	LORA_BW_400  = 0x26
	LORA_BW_200  = 0x34

	LORA_CR_4_5    = 0x01
	LORA_CR_4_6    = 0x02
	LORA_CR_4_7    = 0x03
	LORA_CR_4_8    = 0x04
	LORA_CR_LI_4_5 = 0x05 // long interleaving variants
	LORA_CR_LI_4_6 = 0x06
	LORA_CR_LI_4_7 = 0x07
)

// LoRa packet parameters.
const (
	LORA_HEADER_EXPLICIT = 0x00
	LORA_HEADER_IMPLICIT = 0x80 // fixed length, no header on air

	LORA_CRC_ENABLE  = 0x20
	LORA_CRC_DISABLE = 0x00

	LORA_IQ_NORMAL   = 0x40
	LORA_IQ_INVERTED = 0x00
)

// Standby configurations, regulator modes, ramp times, timeout period bases.
const (
	STDBY_RC   = 0x00
	STDBY_XOSC = 0x01

	REGULATOR_LDO  = 0x00
	REGULATOR_DCDC = 0x01

	RAMPTIME_02_US = 0x00
	RAMPTIME_04_US = 0x20
	RAMPTIME_10_US = 0x80
	RAMPTIME_20_US = 0xE0

	PERIODBASE_15p625_US = 0x00
	PERIODBASE_62p5_US   = 0x01
	PERIODBASE_1_MS      = 0x02
	PERIODBASE_4_MS      = 0x03
)
